// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect, общий канал и каналы consumer'ов
//   - topology.go   — topic exchange, очереди, bindings, dead-letter exchange
//   - publisher.go  — публикация сообщений, exchange объявляется перед первой публикацией
//   - consumer.go   — потребление очереди и политика ack/nack
//
// Политика подтверждения:
//   - успех                → ack
//   - retryable ошибка     → nack с requeue
//   - не-retryable ошибка  → nack без requeue (брокер отправляет в DLX)
//   - KindFatal            → дополнительно OnFatal (останов процесса)
package mq
