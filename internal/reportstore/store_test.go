package reportstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func writePool(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write pool: %v", err)
	}
}

func TestDecode(t *testing.T) {
	input := `{"rating_id": "r1", "report_to_rate": "Left lung clear.", "study": "CT"}

{"rating_id": 2, "report_to_rate": "No effusion."}
{"rating_id": "r3"}
`
	reports, err := Decode(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("Expected 3 reports, got %d", len(reports))
	}
	if reports[0].RatingID != "r1" || reports[0].ReportToRate != "Left lung clear." {
		t.Errorf("Unexpected first report: %+v", reports[0])
	}
	if string(reports[0].Fields["study"]) != `"CT"` {
		t.Errorf("Expected passthrough field, got %v", reports[0].Fields)
	}
	if reports[1].RatingID != "2" {
		t.Errorf("Expected numeric id normalized to \"2\", got %q", reports[1].RatingID)
	}
	if reports[2].Body() != "N/A" {
		t.Errorf("Expected N/A body, got %q", reports[2].Body())
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		isDup bool
	}{
		{name: "duplicate id", input: "{\"rating_id\":\"a\"}\n{\"rating_id\":\"a\"}\n", isDup: true},
		{name: "missing id", input: "{\"report_to_rate\":\"x\"}\n"},
		{name: "empty id", input: "{\"rating_id\":\"  \"}\n"},
		{name: "bad json", input: "{not json}\n"},
		{name: "object id", input: "{\"rating_id\":{}}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("Expected error")
			}
			if errors.Is(err, ErrDuplicateReportID) != tt.isDup {
				t.Errorf("Unexpected error kind: %v", err)
			}
		})
	}
}

func TestFileSourceMissingVersusEmpty(t *testing.T) {
	dir := t.TempDir()
	writePool(t, dir, "empty.jsonl", "")
	store := NewStore(NewFileSource(dir))
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	if !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("Expected ErrPoolNotFound, got %v", err)
	}

	reports, err := store.Load(ctx, "empty")
	if err != nil {
		t.Errorf("Expected no error for empty pool, got %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("Expected no reports, got %d", len(reports))
	}
}

func TestDecodeNumericIDs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "integer", raw: `1`, want: "1"},
		{name: "integral float", raw: `1.0`, want: "1"},
		{name: "exponent", raw: `1e3`, want: "1000"},
		{name: "negative zero", raw: `-0`, want: "0"},
		{name: "beyond float64 precision", raw: `12345678901234567890`, want: "12345678901234567890"},
		{name: "fraction", raw: `2.50`, want: "2.5"},
		{name: "string kept verbatim", raw: `"1.0"`, want: "1.0"},
		{name: "empty string", raw: `""`, wantErr: true},
		{name: "object", raw: `{"id":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeID([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeID(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("normalizeID(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecodeSameIDInDifferentForms(t *testing.T) {
	tests := map[string]string{
		"number and string": "{\"rating_id\":1}\n{\"rating_id\":\"1\"}\n",
		"integer and float": "{\"rating_id\":1}\n{\"rating_id\":1.0}\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(input))
			if !errors.Is(err, ErrDuplicateReportID) {
				t.Errorf("Expected ErrDuplicateReportID, got %v", err)
			}
		})
	}
}

func TestFileSourceAcceptsExplicitExtension(t *testing.T) {
	dir := t.TempDir()
	writePool(t, dir, "rating_reports.jsonl", `{"rating_id":"r1"}`)
	store := NewStore(NewFileSource(dir))

	for _, name := range []string{"rating_reports", "rating_reports.jsonl"} {
		reports, err := store.Load(context.Background(), name)
		if err != nil || len(reports) != 1 {
			t.Errorf("Load(%q) = %d reports, %v", name, len(reports), err)
		}
	}
}

func TestPoolKeyRejectsTraversal(t *testing.T) {
	for _, name := range []string{"", "../etc/passwd", "/abs", `a\b`} {
		if _, err := poolKey(name); err == nil {
			t.Errorf("Expected poolKey(%q) to fail", name)
		}
	}
}

type countingSource struct {
	opens   int
	content string
}

func (c *countingSource) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	c.opens++
	return io.NopCloser(strings.NewReader(c.content)), nil
}

func TestStoreCachesAndInvalidates(t *testing.T) {
	src := &countingSource{content: "{\"rating_id\":\"r1\"}\n{\"rating_id\":\"r2\"}\n"}
	store := NewStore(src)
	ctx := context.Background()

	first, err := store.Load(ctx, "p")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := store.Load(ctx, "p")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if src.opens != 1 {
		t.Errorf("Expected a single source read, got %d", src.opens)
	}
	if len(first) != len(second) || first[0].RatingID != second[0].RatingID || first[1].RatingID != second[1].RatingID {
		t.Errorf("Repeated loads must return the same sequence: %v vs %v", first, second)
	}

	// Mutating a returned slice must not affect the cache
	first[0].RatingID = "tampered"
	again, _ := store.Load(ctx, "p")
	if again[0].RatingID != "r1" {
		t.Errorf("Cache was mutated through a returned slice")
	}

	report, err := store.Get(ctx, "p", "r2")
	if err != nil || report == nil || report.RatingID != "r2" {
		t.Errorf("Get(r2) = %v, %v", report, err)
	}
	report, err = store.Get(ctx, "p", "nope")
	if err != nil || report != nil {
		t.Errorf("Get(nope) = %v, %v", report, err)
	}

	store.InvalidateAll()
	_, _ = store.Load(ctx, "p")
	if src.opens != 2 {
		t.Errorf("Expected reload after InvalidateAll, got %d reads", src.opens)
	}
}

type gatedSource struct {
	mu      sync.Mutex
	opens   map[string]int
	gates   map[string]chan struct{}
	started chan string
}

func (g *gatedSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	g.mu.Lock()
	g.opens[name]++
	gate := g.gates[name]
	g.mu.Unlock()

	g.started <- name
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return io.NopCloser(strings.NewReader(`{"rating_id":"` + name + `-1"}`)), nil
}

func (g *gatedSource) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opens[name]
}

func TestStoreLoadsPoolsIndependently(t *testing.T) {
	gate := make(chan struct{})
	src := &gatedSource{
		opens:   make(map[string]int),
		gates:   map[string]chan struct{}{"slow": gate},
		started: make(chan string, 16),
	}
	store := NewStore(src)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const readers = 4
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports, err := store.Load(ctx, "slow")
			if err == nil && (len(reports) != 1 || reports[0].RatingID != "slow-1") {
				err = errors.New("unexpected reports for slow pool")
			}
			errs <- err
		}()
	}
	if got := <-src.started; got != "slow" {
		t.Fatalf("Expected slow pool to start loading, got %q", got)
	}

	// Another pool loads while the first one is still being read
	reports, err := store.Load(ctx, "fast")
	if err != nil || len(reports) != 1 {
		t.Fatalf("Load(fast) = %v, %v", reports, err)
	}

	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Load(slow) failed: %v", err)
		}
	}
	if n := src.count("slow"); n != 1 {
		t.Errorf("Expected concurrent loads of one pool to share a read, got %d reads", n)
	}
}

func TestStoreDropsLoadStartedBeforeInvalidate(t *testing.T) {
	gate := make(chan struct{})
	src := &gatedSource{
		opens:   make(map[string]int),
		gates:   map[string]chan struct{}{"p": gate},
		started: make(chan string, 4),
	}
	store := NewStore(src)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := store.Load(ctx, "p")
		done <- err
	}()
	<-src.started
	store.InvalidateAll()
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := store.Load(ctx, "p"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n := src.count("p"); n != 2 {
		t.Errorf("Expected a fresh read after invalidation, got %d reads", n)
	}
}

type fakeS3 struct {
	objects map[string]string
	keys    []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.keys = append(f.keys, *in.Key)
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Source(t *testing.T) {
	client := &fakeS3{objects: map[string]string{
		"pools/pool_a.jsonl": "{\"rating_id\":\"a1\"}\n",
	}}
	store := NewStore(NewS3Source(client, "bucket", "pools"))
	ctx := context.Background()

	reports, err := store.Load(ctx, "pool_a")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(reports) != 1 || reports[0].RatingID != "a1" {
		t.Errorf("Unexpected reports: %v", reports)
	}
	if client.keys[0] != "pools/pool_a.jsonl" {
		t.Errorf("Unexpected object key %q", client.keys[0])
	}

	if _, err := store.Load(ctx, "pool_b"); !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("Expected ErrPoolNotFound, got %v", err)
	}
}
