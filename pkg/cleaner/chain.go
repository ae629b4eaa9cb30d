package cleaner

import (
	"strings"
)

// ChainCleaner applies cleaners in sequence.
type ChainCleaner struct {
	cleaners []Cleaner
}

// NewChain returns a cleaner that runs cleaners in the order given.
func NewChain(cleaners ...Cleaner) *ChainCleaner {
	return &ChainCleaner{cleaners: cleaners}
}

func (c *ChainCleaner) Clean(content string) (string, error) {
	var err error
	for _, cl := range c.cleaners {
		content, err = cl.Clean(content)
		if err != nil {
			return "", err
		}
	}
	return content, nil
}

func (c *ChainCleaner) Name() string {
	names := make([]string, len(c.cleaners))
	for i, cl := range c.cleaners {
		names[i] = cl.Name()
	}
	return "chain(" + strings.Join(names, "->") + ")"
}
