package workflow

// Stats 聚合了单个工作流内任务状态的统计信息，常用于状态接口与仪表盘。
type Stats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Blocked    int `json:"blocked"`
}

// Stable 判断工作流是否已无可继续推进的任务。
func (s Stats) Stable() bool {
	return s.Total > 0 && s.Completed+s.Failed == s.Total
}

// AllParked 判断所有未终结任务是否都处于 blocked 状态。
// 此时没有任务在排队或执行，需要聚合器释放 blocked 任务。
func (s Stats) AllParked() bool {
	return s.Blocked > 0 && s.Blocked+s.Completed+s.Failed == s.Total
}

func computeStats(tasks []*Task) Stats {
	stats := Stats{Total: len(tasks)}
	for _, task := range tasks {
		switch task.Status {
		case TaskQueued:
			stats.Queued++
		case TaskInProgress:
			stats.InProgress++
		case TaskCompleted:
			stats.Completed++
		case TaskFailed:
			stats.Failed++
		case TaskBlocked:
			stats.Blocked++
		}
	}
	return stats
}
