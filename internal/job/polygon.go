package job

import (
	"context"
	"fmt"
	"math"

	xerrors "FlowChain/internal/errors"
)

// TypePolygonArea 是多边形面积计算任务的类型标识。
const TypePolygonArea = "polygon_area"

// PolygonAreaJob 使用鞋带公式计算简单多边形的面积。
//
// Payload 约定：
//
//	points: [[x1, y1], [x2, y2], ...]  顶点按顺序排列，至少 3 个。
type PolygonAreaJob struct{}

// Run 实现 Job 接口。
func (j *PolygonAreaJob) Run(_ context.Context, view View) (string, error) {
	points, err := parsePoints(view.Payload["points"])
	if err != nil {
		return "", err
	}
	if len(points) < 3 {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("多边形至少需要 3 个顶点，实际 %d 个", len(points)))
	}

	// 鞋带公式，顶点自动闭合。
	var sum float64
	for i := range points {
		next := points[(i+1)%len(points)]
		sum += points[i][0]*next[1] - next[0]*points[i][1]
	}
	area := math.Abs(sum) / 2
	return fmt.Sprintf("%g", area), nil
}

func parsePoints(raw any) ([][2]float64, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "payload 缺少 points 数组")
	}
	points := make([][2]float64, 0, len(list))
	for i, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("points[%d] 不是 [x, y] 坐标对", i))
		}
		x, okX := toFloat(pair[0])
		y, okY := toFloat(pair[1])
		if !okX || !okY {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("points[%d] 坐标不是数字", i))
		}
		points = append(points, [2]float64{x, y})
	}
	return points, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
