package quality

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"heartlen/internal/features"
	"heartlen/internal/models"
)

// ErrInvalidModel 模型结构不合法
var ErrInvalidModel = errors.New("invalid quality model")

// Model 质量分类模型
// Predict 返回三个类别概率，顺序为 bad, acceptable, excellent
type Model interface {
	Predict(features []float64) ([]float64, error)
}

// Layer 全连接层，Weights 形状为 [输出][输入]
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// Normalization 输入标准化参数 x' = (x - mean) / scale
type Normalization struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// DenseNetwork 以 JSON 描述的前馈网络
type DenseNetwork struct {
	Name          string         `json:"name,omitempty"`
	InputDim      int            `json:"input_dim"`
	Classes       []string       `json:"classes"`
	Normalization *Normalization `json:"normalization,omitempty"`
	Layers        []Layer        `json:"layers"`
}

// ParseDenseNetwork 解析并校验模型
func ParseDenseNetwork(data []byte) (*DenseNetwork, error) {
	var n DenseNetwork
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// Validate 校验各层维度从 12 维输入衔接到 3 类输出
func (n *DenseNetwork) Validate() error {
	if n.InputDim != features.Size {
		return fmt.Errorf("%w: input_dim %d, want %d", ErrInvalidModel, n.InputDim, features.Size)
	}
	if len(n.Classes) != 0 {
		if len(n.Classes) != len(models.QualityClasses) {
			return fmt.Errorf("%w: %d classes, want %d", ErrInvalidModel, len(n.Classes), len(models.QualityClasses))
		}
		for i, c := range n.Classes {
			if c != models.QualityClasses[i] {
				return fmt.Errorf("%w: class %d is %q, want %q", ErrInvalidModel, i, c, models.QualityClasses[i])
			}
		}
	}
	if norm := n.Normalization; norm != nil {
		if len(norm.Mean) != n.InputDim || len(norm.Scale) != n.InputDim {
			return fmt.Errorf("%w: normalization length mismatch", ErrInvalidModel)
		}
	}
	if len(n.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidModel)
	}

	in := n.InputDim
	for li, l := range n.Layers {
		if len(l.Weights) == 0 || len(l.Weights) != len(l.Bias) {
			return fmt.Errorf("%w: layer %d weights/bias mismatch", ErrInvalidModel, li)
		}
		for _, row := range l.Weights {
			if len(row) != in {
				return fmt.Errorf("%w: layer %d expects %d inputs, got row of %d", ErrInvalidModel, li, in, len(row))
			}
		}
		if _, ok := activations[l.Activation]; !ok {
			return fmt.Errorf("%w: layer %d unknown activation %q", ErrInvalidModel, li, l.Activation)
		}
		in = len(l.Weights)
	}
	if in != len(models.QualityClasses) {
		return fmt.Errorf("%w: output dim %d, want %d", ErrInvalidModel, in, len(models.QualityClasses))
	}
	if n.Layers[len(n.Layers)-1].Activation != "softmax" {
		return fmt.Errorf("%w: last layer must use softmax", ErrInvalidModel)
	}
	return nil
}

// Predict 前向计算
func (n *DenseNetwork) Predict(x []float64) ([]float64, error) {
	if len(x) != n.InputDim {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrInvalidModel, len(x), n.InputDim)
	}

	cur := make([]float64, len(x))
	copy(cur, x)
	if norm := n.Normalization; norm != nil {
		for i := range cur {
			if norm.Scale[i] != 0 {
				cur[i] = (cur[i] - norm.Mean[i]) / norm.Scale[i]
			}
		}
	}

	for _, l := range n.Layers {
		out := make([]float64, len(l.Weights))
		for j, row := range l.Weights {
			s := l.Bias[j]
			for i, w := range row {
				s += w * cur[i]
			}
			out[j] = s
		}
		activations[l.Activation](out)
		cur = out
	}
	return cur, nil
}

var activations = map[string]func([]float64){
	"linear": func([]float64) {},
	"":       func([]float64) {},
	"relu": func(v []float64) {
		for i := range v {
			if v[i] < 0 {
				v[i] = 0
			}
		}
	},
	"sigmoid": func(v []float64) {
		for i := range v {
			v[i] = 1 / (1 + math.Exp(-v[i]))
		}
	},
	"tanh": func(v []float64) {
		for i := range v {
			v[i] = math.Tanh(v[i])
		}
	},
	"softmax": softmax,
}

func softmax(v []float64) {
	max := math.Inf(-1)
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	var sum float64
	for i := range v {
		v[i] = math.Exp(v[i] - max)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
