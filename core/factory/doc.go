// Package factory instantiates modules selected by configuration. A module
// is a type string plus a map of raw settings decoded into the typed config
// of the registered constructor.
//
//	reg := factory.NewRegistry[metrics.MetricsSink]()
//	reg.Register("influx", func(conf map[string]any) (metrics.MetricsSink, error) {
//	    var c struct{ URL string `json:"url"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newInfluxSink(c.URL), nil
//	})
//	sink, err := reg.Create(factory.ModuleConfig{Type: "influx", Conf: map[string]any{"url": "http://influx:8086"}})
package factory
