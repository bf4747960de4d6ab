package id

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
}

func TestGenerateConcurrent(t *testing.T) {
	gen := NewGenerator()
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := gen.GenerateString()
			mu.Lock()
			if seen[s] {
				t.Errorf("duplicate ID %s", s)
			}
			seen[s] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
}

func TestPrefixedIDs(t *testing.T) {
	cart := NewCartID()
	conn := NewConnID()

	if !strings.HasPrefix(cart.String(), "cart_") {
		t.Errorf("cart ID missing prefix: %s", cart)
	}
	if !strings.HasPrefix(conn.String(), "conn_") {
		t.Errorf("conn ID missing prefix: %s", conn)
	}
}

func TestIsValid(t *testing.T) {
	gen := NewGenerator()

	if !IsValid(gen.GenerateString()) {
		t.Error("bare ULID should validate")
	}
	if IsValid("not-a-ulid") {
		t.Error("garbage should not validate")
	}
}

func TestTimestamp(t *testing.T) {
	gen := NewGenerator()
	before := time.Now().Add(-time.Second)

	ts, err := Timestamp(gen.GenerateString())
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("timestamp out of range: %v", ts)
	}
}
