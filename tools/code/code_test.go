package code

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nevindra/lolo"
	"github.com/nevindra/lolo/sandbox"
)

type fakeUploader struct {
	uploads int
}

func (u *fakeUploader) Upload(_ context.Context, _ []byte, _ string) (string, error) {
	u.uploads++
	return "https://paste.example/img1", nil
}

func sandboxServer(t *testing.T, result sandbox.Result) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}))
}

func ownerCtx() context.Context {
	return lolo.WithCaller(context.Background(), lolo.Caller{Nick: "boss", Level: lolo.PermOwner})
}

func TestPythonExec(t *testing.T) {
	srv := sandboxServer(t, sandbox.Result{Stdout: "42\n"})
	defer srv.Close()
	runner, err := sandbox.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	tool := New(runner, nil)

	args, _ := json.Marshal(map[string]string{"code": "print(6*7)"})
	result, err := tool.Execute(context.Background(), "python_exec", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultText || !strings.Contains(result.Content, "42") {
		t.Fatalf("result = %+v", result)
	}
}

func TestPythonExecUploadsImages(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	srv := sandboxServer(t, sandbox.Result{Stdout: "plotted", Images: []string{img}})
	defer srv.Close()
	runner, err := sandbox.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	uploader := &fakeUploader{}
	tool := New(runner, uploader)

	args, _ := json.Marshal(map[string]string{"code": "plot()"})
	result, err := tool.Execute(context.Background(), "python_exec", args)
	if err != nil {
		t.Fatal(err)
	}
	if uploader.uploads != 1 {
		t.Fatalf("uploads = %d", uploader.uploads)
	}
	if !strings.Contains(result.Content, "https://paste.example/img1") {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestShellExecOwnerOnly(t *testing.T) {
	srv := sandboxServer(t, sandbox.Result{Stdout: "ok"})
	defer srv.Close()
	runner, err := sandbox.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	tool := New(runner, nil)
	args, _ := json.Marshal(map[string]string{"command": "ls"})

	for _, level := range []lolo.PermissionLevel{lolo.PermNormal, lolo.PermAdmin} {
		ctx := lolo.WithCaller(context.Background(), lolo.Caller{Nick: "bob", Level: level})
		result, err := tool.Execute(ctx, "shell_exec", args)
		if err != nil {
			t.Fatal(err)
		}
		if result.Kind != lolo.ResultError || !strings.HasPrefix(result.Content, "Permission denied") {
			t.Fatalf("level %s: result = %+v", level, result)
		}
	}

	result, err := tool.Execute(ownerCtx(), "shell_exec", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != lolo.ResultText || result.Content != "ok" {
		t.Fatalf("owner result = %+v", result)
	}
}

func TestRenderExitCodeAndStderr(t *testing.T) {
	srv := sandboxServer(t, sandbox.Result{Stderr: "boom", ExitCode: 1})
	defer srv.Close()
	runner, err := sandbox.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	tool := New(runner, nil)

	args, _ := json.Marshal(map[string]string{"command": "false"})
	result, err := tool.Execute(ownerCtx(), "shell_exec", args)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Content, "stderr:") || !strings.Contains(result.Content, "exit code 1") {
		t.Fatalf("content = %q", result.Content)
	}
}
