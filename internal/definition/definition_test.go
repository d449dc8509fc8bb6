package definition

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
name: area-report
steps:
  - step: 1
    type: polygon_area
    payload:
      points: [[0, 0], [4, 0], [4, 3]]
  - step: 2
    type: report
    depends_on: 1
    payload:
      title: Area summary
`

func TestParseDefinition(t *testing.T) {
	req, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.Name != "area-report" {
		t.Fatalf("name = %q", req.Name)
	}
	if len(req.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(req.Steps))
	}
	first := req.Steps[0]
	if first.StepNumber != 1 || first.TaskType != "polygon_area" || first.DependsOn != nil {
		t.Fatalf("step 1 = %+v", first)
	}
	points, ok := first.Payload["points"].([]any)
	if !ok || len(points) != 3 {
		t.Fatalf("points = %v", first.Payload["points"])
	}
	second := req.Steps[1]
	if second.DependsOn == nil || *second.DependsOn != 1 {
		t.Fatalf("step 2 dependsOn = %v", second.DependsOn)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("name: x\nretries: 3\nsteps:\n  - step: 1\n    type: echo\n"))
	if err == nil {
		t.Fatal("未知字段应被拒绝")
	}
}

func TestParseRequiresNameAndSteps(t *testing.T) {
	if _, err := Parse([]byte("steps:\n  - step: 1\n    type: echo\n")); err == nil {
		t.Fatal("缺少 name 应失败")
	}
	if _, err := Parse([]byte("name: empty\n")); err == nil {
		t.Fatal("空 steps 应失败")
	}
}

func TestLoadDirSortsByFileName(t *testing.T) {
	dir := t.TempDir()
	write := func(name, workflowName string) {
		t.Helper()
		content := "name: " + workflowName + "\nsteps:\n  - step: 1\n    type: echo\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("写入定义文件失败: %v", err)
		}
	}
	write("b.yaml", "second")
	write("a.yml", "first")
	if err := os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	requests, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(requests))
	}
	if requests[0].Name != "first" || requests[1].Name != "second" {
		t.Fatalf("顺序错误: %s, %s", requests[0].Name, requests[1].Name)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("缺失文件应返回错误")
	}
}
