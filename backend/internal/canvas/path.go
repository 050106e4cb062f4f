package canvas

import "errors"

// Coord 坐标 [x, y]，由渲染层产生，这里不解释其含义
type Coord [2]float64

// PathData 一笔已提交的笔画（落笔到抬笔之间的所有点）
type PathData struct {
	Points []Coord `json:"points"`
	UserID string  `json:"userId"`
	Color  string  `json:"color"`
	Size   float64 `json:"size"`
}

var (
	ErrEmptyPath     = errors.New("path has no points")
	ErrMissingAuthor = errors.New("path has no userId")
	ErrInvalidSize   = errors.New("path size must be positive")
)

func (p PathData) Validate() error {
	if len(p.Points) == 0 {
		return ErrEmptyPath
	}
	if p.UserID == "" {
		return ErrMissingAuthor
	}
	if p.Size <= 0 {
		return ErrInvalidSize
	}
	return nil
}

// clone 深拷贝点序列，避免提交后的笔画被调用方继续修改
func (p PathData) clone() PathData {
	points := make([]Coord, len(p.Points))
	copy(points, p.Points)
	p.Points = points
	return p
}
