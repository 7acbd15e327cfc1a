package signal

// Buffer 会话内的信号缓冲区
// capacity <= 0 时无界增长；capacity > 0 时为定长环形缓冲，写满后淘汰最旧样本。
// 只允许一个写入者，读取方通过 Snapshot 获取独立副本。
type Buffer struct {
	capacity int
	data     []float64
	head     int    // 环形模式下最旧样本的位置
	total    uint64 // 累计写入样本数
}

// Snapshot 缓冲区某一时刻的只读副本
// Values[i] 的序号为 FirstSeq + i
type Snapshot struct {
	Values   []float64
	FirstSeq uint64
}

// Len 快照样本数
func (s Snapshot) Len() int {
	return len(s.Values)
}

// Seq 快照内下标对应的全局序号
func (s Snapshot) Seq(i int) uint64 {
	return s.FirstSeq + uint64(i)
}

// NewBuffer 创建信号缓冲区
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	b := &Buffer{capacity: capacity}
	if capacity > 0 {
		b.data = make([]float64, 0, capacity)
	}
	return b
}

// Append 追加一个样本，返回其序号
func (b *Buffer) Append(v float64) uint64 {
	seq := b.total
	b.total++

	if b.capacity == 0 || len(b.data) < b.capacity {
		b.data = append(b.data, v)
		return seq
	}

	b.data[b.head] = v
	b.head = (b.head + 1) % b.capacity
	return seq
}

// Snapshot 按插入顺序复制当前内容
func (b *Buffer) Snapshot() Snapshot {
	out := make([]float64, len(b.data))
	n := copy(out, b.data[b.head:])
	copy(out[n:], b.data[:b.head])
	return Snapshot{
		Values:   out,
		FirstSeq: b.total - uint64(len(b.data)),
	}
}

// Last 最新样本
func (b *Buffer) Last() (float64, bool) {
	if len(b.data) == 0 {
		return 0, false
	}
	if b.head == 0 {
		return b.data[len(b.data)-1], true
	}
	return b.data[b.head-1], true
}

// Len 当前保留的样本数
func (b *Buffer) Len() int {
	return len(b.data)
}

// Capacity 容量，0 表示无界
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Total 累计写入样本数
func (b *Buffer) Total() uint64 {
	return b.total
}

// Reset 清空缓冲区，序号从 0 重新开始
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.head = 0
	b.total = 0
}
