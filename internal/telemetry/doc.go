// Package telemetry — логирование и метрики процессов Citydata.
//
// Логгер строится из log.level/log.format (fallback LOG_LEVEL/LOG_FORMAT)
// и передаётся в обработчики через context. Метрики регистрируются на
// переданном prometheus.Registerer и отдаются на /metrics каждым бинарником.
package telemetry
