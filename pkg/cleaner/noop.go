package cleaner

// NoopCleaner returns markup unchanged. It is the default: the model sees
// exactly what the page rendered.
type NoopCleaner struct{}

func NewNoop() *NoopCleaner {
	return &NoopCleaner{}
}

func (c *NoopCleaner) Clean(html string) (string, error) {
	return html, nil
}

func (c *NoopCleaner) Name() string {
	return "noop"
}
