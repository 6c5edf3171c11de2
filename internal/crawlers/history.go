package crawlers

import "time"

// RequestRecord 单次请求尝试的结果
type RequestRecord struct {
	Success      bool
	ResponseTime time.Duration
	Timestamp    time.Time
	StatusCode   int    // 0 表示传输层错误
	ErrorMsg     string // 失败原因,成功时为空
}

// ring 固定容量的环形缓冲,满后覆盖最旧的元素
type ring[T any] struct {
	items []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = v
		r.size++
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
}

func (r *ring[T]) len() int { return r.size }

func (r *ring[T]) cap() int { return len(r.items) }

// each 从旧到新遍历
func (r *ring[T]) each(fn func(T)) {
	for i := 0; i < r.size; i++ {
		fn(r.items[(r.start+i)%len(r.items)])
	}
}

// last 返回最新的元素
func (r *ring[T]) last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.start+r.size-1)%len(r.items)], true
}

func (r *ring[T]) reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start, r.size = 0, 0
}
