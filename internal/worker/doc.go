// Package worker содержит контракт воркера датасета.
//
// # Обзор
//
// Воркер — единица оркестрации, которая связывает источники данных,
// трансформацию и модели хранения с одной или несколькими очередями.
// Каждый метод воркера, привязанный к очереди, обрабатывает одно сообщение:
//
//  1. Декодирует payload (DecodeJSON) или пропускает шаг (очереди по расписанию)
//  2. Загружает сырые записи из источников (FetchAll)
//  3. Трансформирует их (TransformBatch)
//  4. Сохраняет через модель (Save, для full-replace сначала Truncate)
//  5. Публикует следующие сообщения (SendMessageToExchange)
//
// Шаги 2–5 реализует Refresh. Публикация выполняется только после
// успешного сохранения.
//
// # Ключевые компоненты
//
// ## Deps
//
// Общие ресурсы процесса: конфигурация, пул PostgreSQL, Redis, publisher,
// логгер, метрики. Передаются в Factory каждого воркера.
//
// ## Base
//
// Встраивается в воркеры датасетов: имя, префикс очередей, публикация.
//
//	type Worker struct {
//	    *worker.Base
//	    pipeline worker.Pipeline[Raw, *geojson.Feature]
//	}
//
// ## Runner
//
// Запускает consumer на каждую очередь и останавливает их при shutdown.
//
// # Ошибки
//
// Воркер не повторяет операции сам. Retryable ошибка возвращается consumer'у
// и сообщение возвращается в очередь, не-retryable уходит в DLX,
// KindFatal дополнительно останавливает процесс.
package worker
