package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "FlowChain/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 记录工作流状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
        id VARCHAR(64) PRIMARY KEY,
        name VARCHAR(255) NOT NULL,
        status VARCHAR(32) NOT NULL,
        final_result TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_workflow_status (status),
        INDEX idx_workflow_updated (updated_at)
)`,
		`CREATE TABLE IF NOT EXISTS tasks (
        id VARCHAR(64) PRIMARY KEY,
        workflow_id VARCHAR(64) NOT NULL,
        step_number INT NOT NULL,
        task_type VARCHAR(255) NOT NULL,
        status VARCHAR(32) NOT NULL,
        depends_on INT NULL,
        progress VARCHAR(255) DEFAULT '',
        result_id VARCHAR(64) DEFAULT '',
        payload TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        UNIQUE KEY uq_task_step (workflow_id, step_number),
        INDEX idx_task_status (status),
        INDEX idx_task_workflow (workflow_id)
)`,
		`CREATE TABLE IF NOT EXISTS results (
        id VARCHAR(64) PRIMARY KEY,
        task_id VARCHAR(64) NOT NULL,
        data TEXT,
        is_error TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        INDEX idx_result_task (task_id)
)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化数据表失败")
		}
	}
	return nil
}

// CreateWorkflow 插入新的工作流记录。
func (s *MySQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "workflow 不能为空")
	}
	if strings.TrimSpace(wf.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工作流 ID 不能为空")
	}

	now := time.Now().Unix()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	const stmt = `INSERT INTO workflows (id, name, status, final_result, created_at, updated_at)
        VALUES (?, ?, ?, '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt, wf.ID, wf.Name, wf.Status, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "工作流已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入工作流失败")
	}
	return nil
}

// GetWorkflow 查询指定工作流。
func (s *MySQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	const stmt = `SELECT id, name, status, final_result, created_at, updated_at
        FROM workflows WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)

	var wf Workflow
	var finalResult sql.NullString
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Status, &finalResult, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工作流失败")
	}
	wf.FinalResult = finalResult.String
	return &wf, nil
}

// UpdateWorkflow 写入工作流状态。WHERE 条件排除终态记录，保证状态单调。
func (s *MySQLStore) UpdateWorkflow(ctx context.Context, id string, status WorkflowStatus, finalResult string) error {
	const stmt = `UPDATE workflows SET status = ?, final_result = ?, updated_at = ?
        WHERE id = ? AND status NOT IN (?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		status,
		finalResult,
		time.Now().Unix(),
		id,
		WorkflowCompleted,
		WorkflowFailed,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新工作流状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// 终态记录的空更新是合法的幂等调用，只有记录不存在才报错。
		if _, getErr := s.GetWorkflow(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListWorkflows 返回最近的工作流。
func (s *MySQLStore) ListWorkflows(ctx context.Context, opts ListOptions) ([]*Workflow, error) {
	opts.applyDefaults()

	query := `SELECT id, name, status, final_result, created_at, updated_at FROM workflows`

	args := make([]any, 0, 4)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, status)
		}
		query += fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ","))
	}

	order := " ORDER BY updated_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工作流列表失败")
	}
	defer rows.Close()

	workflows := make([]*Workflow, 0, opts.Limit)
	for rows.Next() {
		var wf Workflow
		var finalResult sql.NullString
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Status, &finalResult, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工作流记录失败")
		}
		wf.FinalResult = finalResult.String
		copyWf := wf
		workflows = append(workflows, &copyWf)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历工作流失败")
	}
	return workflows, nil
}

// CreateTasks 批量插入任务记录。
func (s *MySQLStore) CreateTasks(ctx context.Context, tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	const stmt = `INSERT INTO tasks
        (id, workflow_id, step_number, task_type, status, depends_on, progress, result_id, payload, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?, ?)`

	now := time.Now().Unix()
	for _, task := range tasks {
		if task == nil || strings.TrimSpace(task.ID) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
		}
		task.CreatedAt = now
		task.UpdatedAt = now

		payloadValue, err := marshalPayload(task.Payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务 payload 失败")
		}

		var dependsOn sql.NullInt64
		if task.DependsOn != nil {
			dependsOn = sql.NullInt64{Int64: int64(*task.DependsOn), Valid: true}
		}

		if _, err := tx.ExecContext(ctx, stmt,
			task.ID,
			task.WorkflowID,
			task.StepNumber,
			task.TaskType,
			task.Status,
			dependsOn,
			payloadValue,
			task.CreatedAt,
			task.UpdatedAt,
		); err != nil {
			var mysqlErr *mysql.MySQLError
			if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
				return ErrTaskConflict
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交任务事务失败")
	}
	return nil
}

const taskColumns = `id, workflow_id, step_number, task_type, status, depends_on, progress, result_id, payload, created_at, updated_at`

// GetTask 查询指定任务。
func (s *MySQLStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// GetTaskByStep 按 (workflowID, stepNumber) 查询任务。
func (s *MySQLStore) GetTaskByStep(ctx context.Context, workflowID string, step int) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE workflow_id = ? AND step_number = ?`,
		workflowID, step)
	return scanTask(row)
}

// ListTasks 返回工作流内全部任务。
func (s *MySQLStore) ListTasks(ctx context.Context, workflowID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE workflow_id = ? ORDER BY step_number ASC`,
		workflowID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListQueued 按入队先后返回待执行任务。
func (s *MySQLStore) ListQueued(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY updated_at ASC, id ASC LIMIT ?`,
		TaskQueued, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询待执行任务失败")
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ClaimTask 以条件更新领取任务，竞争失败返回 ErrTaskConflict。
func (s *MySQLStore) ClaimTask(ctx context.Context, id string) (*Task, error) {
	const stmt = `UPDATE tasks SET status = ?, progress = ?, updated_at = ?
        WHERE id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		TaskInProgress,
		"starting job...",
		time.Now().Unix(),
		id,
		TaskQueued,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		task, getErr := s.GetTask(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return task, ErrTaskConflict
	}
	return s.GetTask(ctx, id)
}

// MarkTaskBlocked 将任务置为 blocked。
func (s *MySQLStore) MarkTaskBlocked(ctx context.Context, id string) error {
	return s.updateTaskStatus(ctx, id, TaskBlocked, "")
}

// MarkTaskCompleted 将任务置为 completed 并关联结果。
func (s *MySQLStore) MarkTaskCompleted(ctx context.Context, id string, resultID string) error {
	return s.updateTaskStatus(ctx, id, TaskCompleted, resultID)
}

// MarkTaskFailed 将任务置为 failed 并关联结果。
func (s *MySQLStore) MarkTaskFailed(ctx context.Context, id string, resultID string) error {
	return s.updateTaskStatus(ctx, id, TaskFailed, resultID)
}

func (s *MySQLStore) updateTaskStatus(ctx context.Context, id string, status TaskStatus, resultID string) error {
	const stmt = `UPDATE tasks SET status = ?, progress = '', result_id = ?, updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt, status, resultID, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, getErr := s.GetTask(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// RequeueBlocked 释放工作流内全部 blocked 任务。
func (s *MySQLStore) RequeueBlocked(ctx context.Context, workflowID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM tasks WHERE workflow_id = ? AND status = ? ORDER BY step_number ASC`,
		workflowID, TaskBlocked)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 blocked 任务失败")
	}
	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务 ID 失败")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 blocked 任务失败")
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	const stmt = `UPDATE tasks SET status = ?, updated_at = ? WHERE workflow_id = ? AND status = ?`
	if _, err := s.db.ExecContext(ctx, stmt, TaskQueued, time.Now().Unix(), workflowID, TaskBlocked); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "释放 blocked 任务失败")
	}
	return ids, nil
}

// CreateResult 写入一次执行结果。
func (s *MySQLStore) CreateResult(ctx context.Context, result *Result) error {
	if result == nil || result.ID == "" || result.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "结果 ID 与任务 ID 不能为空")
	}
	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO results (id, task_id, data, is_error, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, result.ID, result.TaskID, result.Data, result.IsError, result.CreatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "结果已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入结果失败")
	}
	return nil
}

// GetResultByTask 返回任务最近一次的执行结果。
func (s *MySQLStore) GetResultByTask(ctx context.Context, taskID string) (*Result, error) {
	const stmt = `SELECT id, task_id, data, is_error, created_at FROM results
        WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, stmt, taskID)

	var result Result
	if err := row.Scan(&result.ID, &result.TaskID, &result.Data, &result.IsError, &result.CreatedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询结果失败")
	}
	return &result, nil
}

// WorkflowStats 返回工作流内任务状态的聚合信息。
func (s *MySQLStore) WorkflowStats(ctx context.Context, workflowID string) (Stats, error) {
	const stmt = `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS queued,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS in_progress,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS blocked
        FROM tasks WHERE workflow_id = ?`

	row := s.db.QueryRowContext(ctx, stmt,
		string(TaskQueued), string(TaskInProgress), string(TaskCompleted),
		string(TaskFailed), string(TaskBlocked), workflowID)

	var stats Stats
	var queued, inProgress, completed, failed, blocked sql.NullInt64
	if err := row.Scan(&stats.Total, &queued, &inProgress, &completed, &failed, &blocked); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	stats.Queued = int(queued.Int64)
	stats.InProgress = int(inProgress.Int64)
	stats.Completed = int(completed.Int64)
	stats.Failed = int(failed.Int64)
	stats.Blocked = int(blocked.Int64)
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskFields(scanner rowScanner) (*Task, error) {
	var task Task
	var dependsOn sql.NullInt64
	var progress, resultID sql.NullString
	var payload sql.NullString
	if err := scanner.Scan(
		&task.ID,
		&task.WorkflowID,
		&task.StepNumber,
		&task.TaskType,
		&task.Status,
		&dependsOn,
		&progress,
		&resultID,
		&payload,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if dependsOn.Valid {
		dep := int(dependsOn.Int64)
		task.DependsOn = &dep
	}
	task.Progress = progress.String
	task.ResultID = resultID.String
	decoded, err := unmarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	task.Payload = decoded
	return &task, nil
}

func scanTask(row *sql.Row) (*Task, error) {
	task, err := scanTaskFields(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	tasks := make([]*Task, 0, 8)
	for rows.Next() {
		task, err := scanTaskFields(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

func marshalPayload(payload map[string]any) (sql.NullString, error) {
	if len(payload) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalPayload(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw.String), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

var _ Store = (*MySQLStore)(nil)
