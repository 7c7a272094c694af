package sync

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/schaermu/themesync/internal/config"
	"github.com/schaermu/themesync/internal/ignoreset"
	"github.com/schaermu/themesync/internal/pathmap"
	"github.com/schaermu/themesync/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEngine creates an engine over a fresh project directory with the
// bundler-owned directories ignored.
func newTestEngine(t *testing.T, routing pathmap.MediaRouting) (*Engine, *config.Config) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	mapper := pathmap.NewMapper(pathmap.NewIndex(), routing)
	ignore := ignoreset.New("assets/scripts", "assets/styles")
	return NewEngine(cfg, mapper, ignore, testLogger()), cfg
}

func srcPath(cfg *config.Config, rel string) string {
	return filepath.Join(cfg.Paths.Src, filepath.FromSlash(rel))
}

func distPath(cfg *config.Config, rel string) string {
	return filepath.Join(cfg.Paths.Dist, filepath.FromSlash(rel))
}

func TestFileHash(t *testing.T) {
	tmpDir := t.TempDir()
	tmpPath := filepath.Join(tmpDir, "test.txt")

	if err := os.WriteFile(tmpPath, []byte("test content"), 0644); err != nil {
		t.Fatal(err)
	}

	hash1, err := fileHash(tmpPath)
	if err != nil {
		t.Fatal(err)
	}
	hash2, err := fileHash(tmpPath)
	if err != nil {
		t.Fatal(err)
	}
	if hash1 != hash2 {
		t.Errorf("hash mismatch: %s != %s", hash1, hash2)
	}

	if err := os.WriteFile(tmpPath, []byte("different content"), 0644); err != nil {
		t.Fatal(err)
	}
	hash3, err := fileHash(tmpPath)
	if err != nil {
		t.Fatal(err)
	}
	if hash1 == hash3 {
		t.Error("hash should change when content changes")
	}
}

func TestHandle_AddFlattensSubfolderTemplate(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{
		"sections/product/product.liquid": "{% schema %}{% endschema %}",
	})

	res := engine.Handle(context.Background(), Event{Op: OpAdded, Path: srcPath(cfg, "sections/product/product.liquid")})
	if res.Outcome != OutcomeCopied {
		t.Fatalf("Outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.Output != "sections/product.liquid" {
		t.Errorf("Output = %q, want sections/product.liquid", res.Output)
	}

	testutil.AssertFileContent(t, distPath(cfg, "sections/product.liquid"), "{% schema %}{% endschema %}")
	if _, err := os.Stat(distPath(cfg, "sections/product/product.liquid")); !errors.Is(err, fs.ErrNotExist) {
		t.Error("unflattened copy should not exist")
	}
}

func TestHandle_MediaRoutingConsistentAcrossOps(t *testing.T) {
	tests := []struct {
		name    string
		routing pathmap.MediaRouting
		src     string
		want    pathmap.OutputPath
	}{
		{"intended image", pathmap.RouteIntended, "assets/images/icons/logo.png", "assets/logo.png"},
		{"intended font", pathmap.RouteIntended, "assets/fonts/inter.woff2", "assets/inter.woff2"},
		{"literal image", pathmap.RouteLiteral, "assets/images/icons/logo.png", "assets/logo.png"},
		{"literal font", pathmap.RouteLiteral, "assets/fonts/inter.woff2", "assets/fonts/inter.woff2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, cfg := newTestEngine(t, tt.routing)
			testutil.WriteTree(t, cfg.Paths.Src, map[string]string{tt.src: "v1"})
			ctx := context.Background()
			abs := srcPath(cfg, tt.src)

			res := engine.Handle(ctx, Event{Op: OpAdded, Path: abs})
			if res.Outcome != OutcomeCopied || res.Output != tt.want {
				t.Fatalf("add: outcome=%s output=%q err=%v", res.Outcome, res.Output, res.Err)
			}

			testutil.WriteTree(t, cfg.Paths.Src, map[string]string{tt.src: "v2"})
			res = engine.Handle(ctx, Event{Op: OpModified, Path: abs})
			if res.Outcome != OutcomeCopied || res.Output != tt.want {
				t.Fatalf("modify: outcome=%s output=%q err=%v", res.Outcome, res.Output, res.Err)
			}
			testutil.AssertFileContent(t, tt.want.Abs(cfg.Paths.Dist), "v2")

			if err := os.Remove(abs); err != nil {
				t.Fatal(err)
			}
			res = engine.Handle(ctx, Event{Op: OpRemoved, Path: abs})
			if res.Outcome != OutcomeRemoved || res.Output != tt.want {
				t.Fatalf("remove: outcome=%s output=%q err=%v", res.Outcome, res.Output, res.Err)
			}
			if _, err := os.Stat(tt.want.Abs(cfg.Paths.Dist)); !errors.Is(err, fs.ErrNotExist) {
				t.Error("output still exists after remove")
			}
		})
	}
}

func TestHandle_AddIsIdempotent(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{"layout/theme.liquid": "layout"})
	ev := Event{Op: OpAdded, Path: srcPath(cfg, "layout/theme.liquid")}

	for i := 0; i < 2; i++ {
		res := engine.Handle(context.Background(), ev)
		if res.Outcome != OutcomeCopied {
			t.Fatalf("run %d: outcome=%s err=%v", i, res.Outcome, res.Err)
		}
		testutil.AssertFileContent(t, distPath(cfg, "layout/theme.liquid"), "layout")
	}
}

func TestHandle_DoubleRemoveIsNonFatal(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Dist, map[string]string{"config/settings_data.json": "{}"})
	ev := Event{Op: OpRemoved, Path: srcPath(cfg, "config/settings_data.json")}

	first := engine.Handle(context.Background(), ev)
	if first.Outcome != OutcomeRemoved {
		t.Fatalf("first remove: outcome=%s err=%v", first.Outcome, first.Err)
	}

	second := engine.Handle(context.Background(), ev)
	if second.Outcome != OutcomeNotFound {
		t.Fatalf("second remove: outcome=%s, want not-found", second.Outcome)
	}
	if !errors.Is(second.Err, fs.ErrNotExist) {
		t.Errorf("second remove err = %v, want ErrNotExist", second.Err)
	}
}

func TestHandle_RemoveFlattenedTemplate(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{"snippets/cards/card.liquid": "card"})
	abs := srcPath(cfg, "snippets/cards/card.liquid")
	ctx := context.Background()

	if res := engine.Handle(ctx, Event{Op: OpAdded, Path: abs}); res.Outcome != OutcomeCopied {
		t.Fatalf("add: %s %v", res.Outcome, res.Err)
	}

	res := engine.Handle(ctx, Event{Op: OpRemoved, Path: abs})
	if res.Outcome != OutcomeRemoved || res.Output != "snippets/card.liquid" {
		t.Fatalf("remove: outcome=%s output=%q", res.Outcome, res.Output)
	}
	if engine.Mapper().Index().Contains("snippets/cards/card.liquid") {
		t.Error("removed template still indexed")
	}
}

func TestHandle_IgnoredPathsNeverTouched(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{
		"assets/scripts/pages/home.js": "js",
		"assets/styles/theme.scss":     "scss",
	})
	// An output that a mapping would hit if the ignore set were bypassed.
	testutil.WriteTree(t, cfg.Paths.Dist, map[string]string{"assets/styles/theme.scss": "bundled"})

	for _, ev := range []Event{
		{Op: OpAdded, Path: srcPath(cfg, "assets/scripts/pages/home.js")},
		{Op: OpModified, Path: srcPath(cfg, "assets/styles/theme.scss")},
		{Op: OpRemoved, Path: srcPath(cfg, "assets/styles/theme.scss")},
		{Op: OpAdded, Path: srcPath(cfg, "assets/scripts"), IsDir: true},
	} {
		res := engine.Handle(context.Background(), ev)
		if res.Outcome != OutcomeIgnored {
			t.Errorf("%s %s: outcome=%s, want ignored", ev.Op, ev.Path, res.Outcome)
		}
		if res.Output != "" {
			t.Errorf("%s %s: mapping ran for ignored path (%q)", ev.Op, ev.Path, res.Output)
		}
	}

	if _, err := os.Stat(distPath(cfg, "assets/scripts/pages/home.js")); !errors.Is(err, fs.ErrNotExist) {
		t.Error("ignored file was copied")
	}
	testutil.AssertFileContent(t, distPath(cfg, "assets/styles/theme.scss"), "bundled")
}

func TestHandle_CopyFailureIsReported(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{"layout/theme.liquid": "x"})
	// A file where the destination directory should be blocks MkdirAll.
	testutil.WriteTree(t, cfg.Paths.Dist, map[string]string{"layout": "not a dir"})

	res := engine.Handle(context.Background(), Event{Op: OpAdded, Path: srcPath(cfg, "layout/theme.liquid")})
	if res.Outcome != OutcomeFailed || res.Err == nil {
		t.Fatalf("outcome=%s err=%v, want failed", res.Outcome, res.Err)
	}
}

func TestHandle_VanishedSourceIsSkipped(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)

	res := engine.Handle(context.Background(), Event{Op: OpModified, Path: srcPath(cfg, "layout/gone.liquid")})
	if res.Outcome != OutcomeSkipped {
		t.Fatalf("outcome=%s, want skipped", res.Outcome)
	}
	if _, err := os.Stat(distPath(cfg, "layout")); !errors.Is(err, fs.ErrNotExist) {
		t.Error("destination directory created for vanished source")
	}
}

func TestHandle_OutsideSourceTree(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	res := engine.Handle(context.Background(), Event{Op: OpAdded, Path: filepath.Join(cfg.ProjectDir, "package.json")})
	if res.Outcome != OutcomeSkipped || res.Source != "" {
		t.Errorf("outcome=%s source=%q", res.Outcome, res.Source)
	}
}

func TestHandle_CancelledContext(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{"layout/theme.liquid": "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := engine.Handle(ctx, Event{Op: OpAdded, Path: srcPath(cfg, "layout/theme.liquid")})
	if res.Outcome != OutcomeSkipped || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("outcome=%s err=%v", res.Outcome, res.Err)
	}
}

func TestHandle_DirectoryEvents(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{
		"sections/collection/grid.liquid": "grid",
		"sections/collection/list.liquid": "list",
	})
	ctx := context.Background()
	dir := srcPath(cfg, "sections/collection")

	res := engine.Handle(ctx, Event{Op: OpAdded, Path: dir, IsDir: true})
	if res.Outcome != OutcomeSkipped {
		t.Fatalf("dir add outcome=%s", res.Outcome)
	}
	index := engine.Mapper().Index()
	if index.Len() != 2 {
		t.Fatalf("index Len() = %d, want 2", index.Len())
	}

	for _, name := range []string{"grid", "list"} {
		ev := Event{Op: OpAdded, Path: srcPath(cfg, "sections/collection/"+name+".liquid")}
		if res := engine.Handle(ctx, ev); res.Outcome != OutcomeCopied {
			t.Fatalf("add %s: %s %v", name, res.Outcome, res.Err)
		}
	}

	// Directory removal delivered before the per-file removals
	res = engine.Handle(ctx, Event{Op: OpRemoved, Path: dir, IsDir: true})
	if res.Outcome != OutcomeSkipped {
		t.Fatalf("dir remove outcome=%s", res.Outcome)
	}
	if index.Len() != 0 {
		t.Errorf("index Len() after dir removal = %d, want 0", index.Len())
	}
	for _, name := range []string{"grid", "list"} {
		if _, err := os.Stat(distPath(cfg, "sections/"+name+".liquid")); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("flattened %s.liquid still in dist", name)
		}
	}

	// The trailing per-file event is a benign not-found.
	res = engine.Handle(ctx, Event{Op: OpRemoved, Path: srcPath(cfg, "sections/collection/grid.liquid")})
	if res.Outcome != OutcomeNotFound {
		t.Errorf("trailing file remove outcome=%s, want not-found", res.Outcome)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if r, err := Remove(path); r != Removed || err != nil {
		t.Errorf("Remove() = %v, %v; want Removed", r, err)
	}
	if r, _ := Remove(path); r != NotFound {
		t.Errorf("Remove() second call = %v, want NotFound", r)
	}

	// Non-empty directory cannot be removed with os.Remove.
	testutil.WriteTree(t, dir, map[string]string{"full/child": "x"})
	if r, err := Remove(filepath.Join(dir, "full")); r != RemoveFailed || err == nil {
		t.Errorf("Remove() on non-empty dir = %v, %v; want RemoveFailed", r, err)
	}
}

func TestCopyFile(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "src.txt")
	dstPath := filepath.Join(tmpDir, "sub", "dst.txt")

	content := []byte("hello world")
	if err := os.WriteFile(srcPath, content, 0755); err != nil {
		t.Fatal(err)
	}

	engine := &Engine{logger: testLogger()}
	if err := engine.copyFile(srcPath, dstPath); err != nil {
		t.Fatalf("copyFile: %v", err)
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	srcInfo, _ := os.Stat(srcPath)
	dstInfo, _ := os.Stat(dstPath)
	if srcInfo.Mode() != dstInfo.Mode() {
		t.Errorf("permission mismatch: src %v, dst %v", srcInfo.Mode(), dstInfo.Mode())
	}
}

func TestCopyFile_NonExistentSource(t *testing.T) {
	tmpDir := t.TempDir()
	engine := &Engine{logger: testLogger()}
	err := engine.copyFile(filepath.Join(tmpDir, "no-such-file"), filepath.Join(tmpDir, "dst"))
	if err == nil {
		t.Fatal("expected error for non-existent source")
	}
}

func TestMirror(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{
		"layout/theme.liquid":              "layout",
		"sections/product/product.liquid":  "product",
		"assets/images/icons/logo.png":     "png",
		"assets/scripts/pages/home.js":     "js",
		"templates/customers/login.liquid": "login",
		".DS_Store":                        "junk",
	})
	testutil.WriteTree(t, cfg.Paths.Dist, map[string]string{
		"layout/theme.liquid": "stale",
	})

	plan, err := engine.Mirror(context.Background(), false)
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}

	if len(plan.Add) != 3 {
		t.Errorf("Add = %d, want 3", len(plan.Add))
	}
	if len(plan.Update) != 1 {
		t.Errorf("Update = %d, want 1", len(plan.Update))
	}

	testutil.AssertFileContent(t, distPath(cfg, "layout/theme.liquid"), "layout")
	testutil.AssertFileContent(t, distPath(cfg, "sections/product.liquid"), "product")
	testutil.AssertFileContent(t, distPath(cfg, "assets/logo.png"), "png")
	testutil.AssertFileContent(t, distPath(cfg, "templates/customers/login.liquid"), "login")

	for _, rel := range []string{"assets/scripts/pages/home.js", ".DS_Store"} {
		if _, err := os.Stat(distPath(cfg, rel)); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("%s should not be mirrored", rel)
		}
	}

	// Second pass finds nothing to do.
	plan, err = engine.Mirror(context.Background(), false)
	if err != nil {
		t.Fatalf("second Mirror: %v", err)
	}
	if len(plan.Add)+len(plan.Update) != 0 || plan.Unchanged != 4 {
		t.Errorf("second pass: add=%d update=%d unchanged=%d", len(plan.Add), len(plan.Update), plan.Unchanged)
	}
}

func TestMirror_DryRun(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{"layout/theme.liquid": "layout"})

	plan, err := engine.Mirror(context.Background(), true)
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if len(plan.Add) != 1 {
		t.Errorf("Add = %d, want 1", len(plan.Add))
	}
	if _, err := os.Stat(cfg.Paths.Dist); !errors.Is(err, fs.ErrNotExist) {
		t.Error("dry-run must not create the destination")
	}
}

func TestMirror_Collisions(t *testing.T) {
	engine, cfg := newTestEngine(t, pathmap.RouteIntended)
	testutil.WriteTree(t, cfg.Paths.Src, map[string]string{
		"sections/a/hero.liquid": "a",
		"sections/b/hero.liquid": "b",
	})

	plan, err := engine.Mirror(context.Background(), false)
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if len(plan.Collisions) != 1 || plan.Collisions[0].Output != "sections/hero.liquid" {
		t.Fatalf("Collisions = %+v", plan.Collisions)
	}
	testutil.AssertFileContent(t, distPath(cfg, "sections/hero.liquid"), "b")
}
