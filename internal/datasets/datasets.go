// Package datasets подключает модули датасетов к каталогу module.Default().
// Бинарники импортируют его ради побочного эффекта регистрации.
package datasets

import (
	_ "github.com/shaiso/Citydata/internal/datasets/meteosensors"
	_ "github.com/shaiso/Citydata/internal/datasets/parkings"
)
