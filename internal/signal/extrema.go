package signal

// Extremum 局部极值点
type Extremum struct {
	Index int
	Value float64
}

// ValleyIndices 返回严格局部极小值的下标
// 仅检查 [1, n-2]，端点和平台不会被报告
func ValleyIndices(s []float64) []int {
	if len(s) < 3 {
		return nil
	}
	var out []int
	for i := 1; i < len(s)-1; i++ {
		if s[i] < s[i-1] && s[i] < s[i+1] {
			out = append(out, i)
		}
	}
	return out
}

// PeakIndices 对取负后的序列求极小值，即极大值下标
func PeakIndices(s []float64) []int {
	return ValleyIndices(negate(s))
}

// FindValleys 返回极小值点（下标与原始值）
func FindValleys(s []float64) []Extremum {
	return collect(s, ValleyIndices(s))
}

// FindPeaks 返回极大值点（下标与原始值）
func FindPeaks(s []float64) []Extremum {
	return collect(s, PeakIndices(s))
}

func negate(s []float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = -v
	}
	return out
}

func collect(s []float64, idx []int) []Extremum {
	if len(idx) == 0 {
		return nil
	}
	out := make([]Extremum, len(idx))
	for i, j := range idx {
		out[i] = Extremum{Index: j, Value: s[j]}
	}
	return out
}
