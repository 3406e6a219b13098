package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Inc()
	Dec()
}

type Metrics struct {
	FetchSuccess     Counter
	FetchRateLimited Counter
	FetchFailed      Counter
	CacheServes      Counter
	SimTicks         Counter
	SimErrors        Counter
	Settlements      Counter
	Subscribers      Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Inc() {}
func (noopGauge) Dec() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		FetchSuccess:     n,
		FetchRateLimited: n,
		FetchFailed:      n,
		CacheServes:      n,
		SimTicks:         n,
		SimErrors:        n,
		Settlements:      n,
		Subscribers:      noopGauge{},
	}
}
