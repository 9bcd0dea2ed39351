// Package influxdb stores device telemetry as time series.
//
// The reconciler feeds every numeric field of a device status report
// into WriteDeviceMetric; InfluxDB keeps the history that the SQLite
// store, which only holds current state, deliberately does not.
//
// Writes use the client library's non-blocking batched API, sized by
// the batch_size and flush_interval settings in config.yaml. Because
// writes are asynchronous, failures arrive through the SetOnError
// callback rather than as return values; only Connect, Close and
// HealthCheck report errors directly.
//
// The whole integration is optional: with influxdb.enabled false,
// Connect returns ErrDisabled and the caller runs without metrics.
package influxdb
