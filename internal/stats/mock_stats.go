package stats

type MockStatsUpdater struct{}

func (m *MockStatsUpdater) Incr(name string) {}

func (m *MockStatsUpdater) Decr(name string) {}

func (m *MockStatsUpdater) RegisterMetric(name string) {}

func (m *MockStatsUpdater) RegisterFunc(name string, fn func() any) {}

func (m *MockStatsUpdater) Run() {}
