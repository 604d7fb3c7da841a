package app

import (
	"sync"
	"testing"
	"time"
)

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	reg := NewRegistry(time.Second)

	first := reg.GetOrCreate("tok-1")
	second := reg.GetOrCreate("tok-1")
	if first != second {
		t.Error("same token must map to the same session")
	}
	if first.UserID != "tok-1" || first.DisplayName != "guest" {
		t.Errorf("unexpected guest identity: %s / %s", first.UserID, first.DisplayName)
	}
	if reg.Count() != 1 {
		t.Errorf("count = %d, want 1", reg.Count())
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	reg := NewRegistry(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.GetOrCreate("shared")
		}()
	}
	wg.Wait()

	if reg.Count() != 1 {
		t.Errorf("concurrent GetOrCreate created %d sessions, want 1", reg.Count())
	}
}

func TestUpdateProfile(t *testing.T) {
	reg := NewRegistry(time.Second)

	sess := reg.UpdateProfile("tok-2", "Mara", "https://cdn.example/p.png", 4)
	if sess.DisplayName != "Mara" || sess.PhotoURL != "https://cdn.example/p.png" || sess.Level != 4 {
		t.Errorf("profile not applied: %+v", sess)
	}

	// blank name and zero level leave existing values in place
	sess = reg.UpdateProfile("tok-2", "", "", 0)
	if sess.DisplayName != "Mara" {
		t.Errorf("blank name overwrote display name: %s", sess.DisplayName)
	}
	if sess.Level != 4 {
		t.Errorf("zero level overwrote level: %d", sess.Level)
	}
	if sess.PhotoURL != "" {
		t.Error("photo url should be replaceable with empty")
	}
}

func TestDrop(t *testing.T) {
	reg := NewRegistry(time.Second)
	a := reg.GetOrCreate("tok-3")
	reg.Drop("tok-3")
	if reg.Count() != 0 {
		t.Errorf("count after drop = %d, want 0", reg.Count())
	}
	if b := reg.GetOrCreate("tok-3"); a == b {
		t.Error("recreated session should be a fresh instance")
	}
}
