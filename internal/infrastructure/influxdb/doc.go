// Package influxdb provides InfluxDB connectivity for the BSB-LAN bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, history writing and health monitoring.
//
// # Purpose
//
// Every numeric parameter value read from the heating controller is
// recorded as a point, so trends survive beyond the retained MQTT state:
//
//	bsblan_value,device=192.168.1.50,name=Komfortsollwert\ (710),param=710 value=20.5
//	bsblan_cycle,device=192.168.1.50,result=ok created=0i,duration_ms=412i
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.BSBLAN.Host)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteParameterValue("8700", "Außentemperatur (8700)", 4.5, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are counted in Stats,
// delivered to the callback set with SetOnError and returned once by the
// next HealthCheck. Connection errors are returned directly.
package influxdb
