package history_store

import (
	"os"
	"path/filepath"
	"testing"

	"comfy_studio/comfy_api"
	"comfy_studio/entities"
)

func entryFor(ref entities.ImageRef) entities.HistoryEntry {
	return entities.HistoryEntry{Image: comfy_api.ViewURL(engineURL, ref)}
}

func TestResolveFallsBackToBackupWithOtherExtension(t *testing.T) {
	f := newFixture(t)
	store := f.store(t)

	backupCopy := filepath.Join(f.cfg.BackupDir, "ComfyUI_00042_.webp")
	writeFile(t, backupCopy, []byte("webp bytes"))

	entry := entryFor(entities.ImageRef{Filename: "ComfyUI_00042_.png", Type: "output"})

	resolution := store.Resolve(entry)
	if resolution.State != StateLocalFallback || resolution.Path != backupCopy {
		t.Fatalf("unexpected resolution %+v", resolution)
	}

	if store.ResolveImagePath(entry) != backupCopy {
		t.Fatalf("ResolveImagePath disagrees with Resolve")
	}
}

func TestResolvePrefersOriginalExtension(t *testing.T) {
	f := newFixture(t)
	store := f.store(t)

	writeFile(t, filepath.Join(f.cfg.BackupDir, "a.jpg"), []byte("jpg"))
	writeFile(t, filepath.Join(f.cfg.BackupDir, "a.webp"), []byte("webp"))

	path := store.ResolveImagePath(entryFor(entities.ImageRef{Filename: "a.webp"}))
	if path != filepath.Join(f.cfg.BackupDir, "a.webp") {
		t.Fatalf("expected original extension first, got %s", path)
	}
}

func TestResolveProbeOrder(t *testing.T) {
	f := newFixture(t)
	f.cfg.LaunchScript = filepath.Join(f.dir, "engine", "run.bat")
	f.cfg.EngineOutputDir = filepath.Join(f.dir, "explicit")
	store := f.store(t)

	ref := entities.ImageRef{Filename: "x.png", Subfolder: "2026-03"}
	entry := entryFor(ref)

	explicit := filepath.Join(f.cfg.EngineOutputDir, "2026-03", "x.png")
	writeFile(t, explicit, []byte("1"))

	if got := store.ResolveImagePath(entry); got != explicit {
		t.Fatalf("expected explicit output dir, got %s", got)
	}

	guessed := filepath.Join(f.dir, "engine", "ComfyUI", "output", "2026-03", "x.png")
	writeFile(t, guessed, []byte("2"))

	if got := store.ResolveImagePath(entry); got != guessed {
		t.Fatalf("expected launcher-guessed dir, got %s", got)
	}

	backupSub := filepath.Join(f.cfg.BackupDir, "2026-03", "x.png")
	writeFile(t, backupSub, []byte("3"))

	if got := store.ResolveImagePath(entry); got != backupSub {
		t.Fatalf("expected backup subfolder, got %s", got)
	}

	backupFlat := filepath.Join(f.cfg.BackupDir, "x.png")
	writeFile(t, backupFlat, []byte("4"))

	if got := store.ResolveImagePath(entry); got != backupFlat {
		t.Fatalf("expected flat backup dir, got %s", got)
	}
}

func TestResolveUnknownImageKeepsURL(t *testing.T) {
	f := newFixture(t)
	store := f.store(t)

	entry := entryFor(entities.ImageRef{Filename: "gone.png"})

	resolution := store.Resolve(entry)
	if resolution.State != StateRemote || resolution.Path != entry.Image {
		t.Fatalf("unexpected resolution %+v", resolution)
	}
}

func TestResolveIgnoresEscapingSubfolder(t *testing.T) {
	f := newFixture(t)
	store := f.store(t)

	writeFile(t, filepath.Join(f.dir, "secret.png"), []byte("x"))

	entry := entryFor(entities.ImageRef{Filename: "secret.png", Subfolder: "../.."})
	if store.Resolve(entry).State != StateRemote {
		t.Fatalf("subfolder must not escape the candidate directories")
	}
}

func TestResolveLocalPathEntries(t *testing.T) {
	f := newFixture(t)
	store := f.store(t)

	local := filepath.Join(f.dir, "elsewhere", "a.png")
	writeFile(t, local, []byte("x"))

	if got := store.Resolve(entities.HistoryEntry{Image: local}); got.State != StateLocalFallback || got.Path != local {
		t.Fatalf("unexpected resolution %+v", got)
	}

	missing := filepath.Join(f.dir, "nowhere", "b.png")

	if got := store.Resolve(entities.HistoryEntry{Image: missing}); got.State != StateUnresolved || got.Path != missing {
		t.Fatalf("unexpected resolution %+v", got)
	}

	moved := filepath.Join(f.cfg.BackupDir, "b.png")
	writeFile(t, moved, []byte("x"))

	if got := store.Resolve(entities.HistoryEntry{Image: missing}); got.Path != moved {
		t.Fatalf("expected moved copy, got %+v", got)
	}
}

func TestResolveThumbnailPath(t *testing.T) {
	f := newFixture(t)
	store := f.store(t)

	remote := entryFor(entities.ImageRef{Filename: "remote.png"})
	if got := store.ResolveThumbnailPath(remote); got != remote.Image {
		t.Fatalf("remote entries must be returned as is, got %s", got)
	}

	source := filepath.Join(f.cfg.BackupDir, "local.png")
	writeFile(t, source, pngData(t))

	local := entryFor(entities.ImageRef{Filename: "local.png"})
	thumb := filepath.Join(f.cfg.ThumbnailDir, "local.png.jpg")

	if got := store.ResolveThumbnailPath(local); got != thumb {
		t.Fatalf("expected generated thumbnail, got %s", got)
	}

	info, err := os.Stat(thumb)
	if err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}

	if got := store.ResolveThumbnailPath(local); got != thumb {
		t.Fatalf("expected cached thumbnail, got %s", got)
	}

	again, _ := os.Stat(thumb)
	if !again.ModTime().Equal(info.ModTime()) {
		t.Fatalf("cached thumbnail was regenerated")
	}
}

func TestResolveThumbnailPathFallsBackOnRenderError(t *testing.T) {
	f := newFixture(t)
	store := f.store(t)

	source := filepath.Join(f.cfg.BackupDir, "broken.png")
	writeFile(t, source, []byte("not really a png"))

	if got := store.ResolveThumbnailPath(entryFor(entities.ImageRef{Filename: "broken.png"})); got != source {
		t.Fatalf("expected full-size fallback, got %s", got)
	}
}

func TestCandidateNames(t *testing.T) {
	got := candidateNames("a.PNG")
	expected := []string{"a.PNG", "a.jpg", "a.jpeg", "a.webp"}

	if len(got) != len(expected) {
		t.Fatalf("got %v, want %v", got, expected)
	}

	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("got %v, want %v", got, expected)
		}
	}
}
