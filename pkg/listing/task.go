package listing

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Task is one listing page to process.
type Task struct {
	URL string `validate:"required,http_url"`
}

// NewTask validates raw as an absolute http or https URL with a host.
func NewTask(raw string) (Task, error) {
	raw = strings.TrimSpace(raw)
	if _, err := url.Parse(raw); err != nil {
		return Task{}, fmt.Errorf("could not parse: %w", err)
	}
	t := Task{URL: raw}
	if err := validate.Struct(t); err != nil {
		return Task{}, fmt.Errorf("invalid format: %w", err)
	}
	return t, nil
}

// ParseTasks splits newline-separated input into valid tasks and rejected
// entries. Blank lines are ignored, so len(tasks)+len(invalid) equals the
// number of non-blank lines.
func ParseTasks(input string) (tasks []Task, invalid []string) {
	sc := bufio.NewScanner(strings.NewReader(input))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if _, err := url.Parse(line); err != nil {
			invalid = append(invalid, fmt.Sprintf("'%s' (could not parse)", line))
			continue
		}
		t, err := NewTask(line)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("'%s' (invalid format)", line))
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, invalid
}

// ParseTaskList is ParseTasks over already split entries.
func ParseTaskList(entries []string) (tasks []Task, invalid []string) {
	return ParseTasks(strings.Join(entries, "\n"))
}
