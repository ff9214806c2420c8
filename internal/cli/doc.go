// Package cli реализует инструмент командной строки Citydata.
//
// CLI работает с той же конфигурацией, что и воркер: загружает модули
// из modules.enabled, строит реестр очередей и показывает его, либо
// публикует ручной запуск очереди в exchange.
//
// Команды:
//   - modules — зарегистрированные модули и их статус
//   - queues  — очереди включённых модулей с binding key и расписанием
//   - trigger — ручной запуск очереди (routing key manual.<prefix>.<queue>)
//
// Как и у воркера, фабрики команд получают замыкания envFn и outputFn,
// которые создают Env и Output после парсинга PersistentFlags.
// Данные выводятся в stdout, сообщения — в stderr.
package cli
