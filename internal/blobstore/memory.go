package blobstore

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const memoryCapacity = 128

// Memory keeps exports in process when no object store is configured. URLs
// point at the API's own download route, which serves them with Get.
type Memory struct {
	cache   *expirable.LRU[string, Object]
	baseURL string
}

// NewMemory returns a store whose URLs are baseURL + "/" + key. Entries expire
// after ttl regardless of the ttl passed to PutAndSign.
func NewMemory(baseURL string, ttl time.Duration) *Memory {
	return &Memory{
		cache:   expirable.NewLRU[string, Object](memoryCapacity, nil, ttl),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (m *Memory) PutAndSign(_ context.Context, obj Object, _ time.Duration) (string, error) {
	m.cache.Add(obj.Key, obj)
	return m.baseURL + "/" + obj.Key, nil
}

func (m *Memory) Get(key string) (Object, error) {
	obj, ok := m.cache.Get(key)
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}
