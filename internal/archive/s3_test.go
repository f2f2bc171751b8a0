package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rewired-gh/sitwatch/internal/models"
)

type putCall struct {
	bucket, key, contentType string
	body                     []byte
}

type fakePutter struct {
	calls []putCall
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.calls = append(f.calls, putCall{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		body:        body,
	})
	return &s3.PutObjectOutput{}, nil
}

func snap(ts time.Time) models.Snapshot {
	return models.Snapshot{
		Timestamp:     ts,
		MarketPrices:  map[string]float64{"CL=F": 80},
		HotspotLevels: map[string]models.HotspotLevel{"Gaza": models.HotspotHigh},
	}
}

func TestArchiveSnapshots_GroupsByDay(t *testing.T) {
	fake := &fakePutter{}
	a := newWithClient(fake, "sitwatch", "/prod/")

	d1 := time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 10, 6, 1, 0, 0, 0, time.UTC)
	// unsorted on purpose
	snaps := []models.Snapshot{snap(d1.Add(15 * time.Minute)), snap(d2), snap(d1)}

	if err := a.ArchiveSnapshots(context.Background(), snaps); err != nil {
		t.Fatalf("ArchiveSnapshots: %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("got %d uploads, want 2", len(fake.calls))
	}

	first := fake.calls[0]
	wantKey := "prod/snapshots/2026/10/05/" +
		strconv.FormatInt(d1.UnixMilli(), 10) + "-" + strconv.FormatInt(d1.Add(15*time.Minute).UnixMilli(), 10) + ".jsonl"
	if first.key != wantKey {
		t.Errorf("key = %q, want %q", first.key, wantKey)
	}
	if first.bucket != "sitwatch" || first.contentType != "application/x-ndjson" {
		t.Errorf("bucket/content type = %q/%q", first.bucket, first.contentType)
	}

	var lines []models.Snapshot
	sc := bufio.NewScanner(bytes.NewReader(first.body))
	for sc.Scan() {
		var s models.Snapshot
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		lines = append(lines, s)
	}
	if len(lines) != 2 || !lines[0].Timestamp.Equal(d1) {
		t.Errorf("day one lines = %+v", lines)
	}
}

func TestArchiveSnapshots_Empty(t *testing.T) {
	fake := &fakePutter{}
	if err := newWithClient(fake, "b", "").ArchiveSnapshots(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(fake.calls) != 0 {
		t.Error("empty input should not upload")
	}
}

func TestArchiveSnapshots_PutError(t *testing.T) {
	fake := &fakePutter{err: errors.New("access denied")}
	err := newWithClient(fake, "b", "").ArchiveSnapshots(context.Background(), []models.Snapshot{snap(time.Now())})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, ClientConfig{Region: "us-east-1"}); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := New(ctx, ClientConfig{Bucket: "b"}); err == nil {
		t.Error("expected error without region")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
