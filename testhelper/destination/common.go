package destination

type Logger interface {
	Log(...interface{})
}

type NOPLogger struct{}

func (*NOPLogger) Log(...interface{}) {}
