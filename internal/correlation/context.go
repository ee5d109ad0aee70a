// Package correlation carries the per-request identifier and tag bag that every
// log record, metric sample and redaction event is attributed to.
package correlation

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Well-known tag keys.
const (
	TagComponent  = "component"
	TagDependency = "dependency"
	TagSession    = "session"
	TagUser       = "user"
)

// Context is created once per inbound request and passed by pointer to every collaborator.
// The identifier never changes; tags may be added as the request progresses. A Context is
// owned by a single request and is not safe for concurrent mutation.
type Context struct {
	id   string
	tags map[string]string
}

// New returns a Context using id, or a freshly generated UUID when id is blank.
func New(id string) *Context {
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewID()
	}
	return &Context{id: id, tags: make(map[string]string)}
}

// NewID generates a random correlation identifier.
func NewID() string {
	return uuid.NewString()
}

// ID returns the correlation identifier.
func (c *Context) ID() string {
	if c == nil {
		return ""
	}
	return c.id
}

// SetTag records a contextual tag. Empty keys are ignored.
func (c *Context) SetTag(key, value string) {
	if c == nil || key == "" {
		return
	}
	c.tags[key] = value
}

// Tag returns the tag value for key.
func (c *Context) Tag(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.tags[key]
	return v, ok
}

// Tags returns a copy of the tag set.
func (c *Context) Tags() map[string]string {
	out := make(map[string]string, len(c.tagsOrNil()))
	for k, v := range c.tagsOrNil() {
		out[k] = v
	}
	return out
}

// Keys returns tag keys in sorted order.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.tagsOrNil()))
	for k := range c.tagsOrNil() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Context) tagsOrNil() map[string]string {
	if c == nil {
		return nil
	}
	return c.tags
}
