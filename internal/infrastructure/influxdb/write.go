package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric records one numeric reading from a device. The
// reconciler calls this for every numeric field in a status report, so
// it must stay cheap: the point goes into the batch buffer and the call
// returns immediately.
func (c *Client) WriteDeviceMetric(householdID, deviceID, field string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"household_id": householdID,
			"device_id":    deviceID,
			"field":        field,
		},
		map[string]interface{}{"value": value},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint records a custom measurement. Keep tags low-cardinality;
// high-cardinality values belong in fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime is WritePoint with an explicit timestamp, for data
// that arrives late.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
