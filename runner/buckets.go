package runner

var defaultHistogramBuckets = []float64{
	0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 60,
}

var customBuckets = map[string][]float64{
	// union graph builds page through every stored resource
	"union_graph_processing_duration": {
		0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600,
	},
	"union_graph_webhook": {
		0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
	},
}
