package signal

import (
	"errors"
	"fmt"
)

// ErrUnknownMode 未知的通道组合方式
var ErrUnknownMode = errors.New("unknown combination mode")

// CombinationMode 通道组合方式
type CombinationMode string

const (
	ModeDefault      CombinationMode = "default"      // 2R - G - B
	ModeRedOnly      CombinationMode = "redOnly"      // R
	ModeGreenOnly    CombinationMode = "greenOnly"    // G
	ModeBlueOnly     CombinationMode = "blueOnly"     // B
	ModeRedMinusBlue CombinationMode = "redMinusBlue" // R - B
	ModeCustom       CombinationMode = "custom"       // 3R - G - B
)

var modeLabels = map[CombinationMode]string{
	ModeDefault:      "Default (2R - G - B)",
	ModeRedOnly:      "Red Only",
	ModeGreenOnly:    "Green Only",
	ModeBlueOnly:     "Blue Only",
	ModeRedMinusBlue: "Red - Blue",
	ModeCustom:       "Custom (3R - G - B)",
}

// Modes 所有组合方式，按展示顺序
func Modes() []CombinationMode {
	return []CombinationMode{ModeDefault, ModeRedOnly, ModeGreenOnly, ModeBlueOnly, ModeRedMinusBlue, ModeCustom}
}

// ParseCombinationMode 解析组合方式名称，空字符串视为 default
func ParseCombinationMode(s string) (CombinationMode, error) {
	if s == "" {
		return ModeDefault, nil
	}
	m := CombinationMode(s)
	if _, ok := modeLabels[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Label 组合方式的显示名称
func (m CombinationMode) Label() string {
	if l, ok := modeLabels[m]; ok {
		return l
	}
	return modeLabels[ModeDefault]
}

func (m CombinationMode) String() string {
	return string(m)
}

// Combine 按组合方式将通道均值合成为一个样本值
// 未识别的组合方式按 default 处理
func Combine(mode CombinationMode, m ChannelMeans) float64 {
	switch mode {
	case ModeRedOnly:
		return m.R
	case ModeGreenOnly:
		return m.G
	case ModeBlueOnly:
		return m.B
	case ModeRedMinusBlue:
		return m.R - m.B
	case ModeCustom:
		return 3*m.R - m.G - m.B
	default:
		return 2*m.R - m.G - m.B
	}
}
