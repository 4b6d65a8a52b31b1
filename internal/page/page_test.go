package page

import (
	"context"
	"errors"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

type stubPage struct {
	bySel map[string][]ScrollBox
	calls []string
}

func (p *stubPage) ScrollBoxes(_ context.Context, sel string) ([]ScrollBox, error) {
	p.calls = append(p.calls, sel)
	return p.bySel[sel], nil
}

func (p *stubPage) Container(ref string) Container { return stubContainer(ref) }

func (p *stubPage) Snapshot(context.Context) (*goquery.Document, error) { return nil, nil }

type stubContainer string

func (stubContainer) Metrics(context.Context) (Metrics, error)   { return Metrics{}, nil }
func (stubContainer) SetScrollTop(context.Context, float64) error { return nil }

func TestLocate_SelectorOrderAndSlack(t *testing.T) {
	p := &stubPage{bySel: map[string][]ScrollBox{
		// 可滚动但余量不足 100：不算
		"a": {{Ref: "1", OverflowY: "auto", ScrollHeight: 450, ClientHeight: 400}},
		"b": {
			{Ref: "2", OverflowY: "hidden", ScrollHeight: 5000, ClientHeight: 400},
			{Ref: "3", OverflowY: "scroll", ScrollHeight: 900, ClientHeight: 400},
		},
		"c": {{Ref: "4", OverflowY: "auto", ScrollHeight: 9000, ClientHeight: 400}},
	}}

	c, box, err := Locate(context.Background(), p, []string{"a", " ", "b", "c"})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if box.Ref != "3" || c.(stubContainer) != "3" {
		t.Fatalf("期望 ref=3，实际 %q", box.Ref)
	}
	if len(p.calls) != 2 {
		t.Fatalf("命中后不应继续尝试，实际调用 %v", p.calls)
	}
}

func TestLocate_FallbackPicksTallest(t *testing.T) {
	p := &stubPage{bySel: map[string][]ScrollBox{
		"*": {
			{Ref: "1", OverflowY: "auto", ScrollHeight: 450, ClientHeight: 400},
			{Ref: "2", OverflowY: "auto", ScrollHeight: 300, ClientHeight: 300},
			{Ref: "3", OverflowY: "scroll", ScrollHeight: 1200, ClientHeight: 400},
			{Ref: "4", OverflowY: "visible", ScrollHeight: 9000, ClientHeight: 400},
		},
	}}

	_, box, err := Locate(context.Background(), p, []string{"x"})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if box.Ref != "3" {
		t.Fatalf("期望兜底选中 ref=3，实际 %q", box.Ref)
	}
}

func TestLocate_DiscoveryError(t *testing.T) {
	p := &stubPage{bySel: map[string][]ScrollBox{
		"*": {{Ref: "1", OverflowY: "auto", ScrollHeight: 300, ClientHeight: 300}},
	}}

	_, _, err := Locate(context.Background(), p, []string{"x", "y"})
	if !IsDiscovery(err) {
		t.Fatalf("期望 DiscoveryError，实际 %v", err)
	}
	var de *DiscoveryError
	if !errors.As(err, &de) || len(de.Tried) != 2 {
		t.Fatalf("Tried 不正确：%v", err)
	}
}

func TestMetrics_Progress(t *testing.T) {
	cases := []struct {
		m    Metrics
		want int
	}{
		{Metrics{ScrollTop: 0, ScrollHeight: 1000, ClientHeight: 200}, 0},
		{Metrics{ScrollTop: 400, ScrollHeight: 1000, ClientHeight: 200}, 50},
		{Metrics{ScrollTop: 800, ScrollHeight: 1000, ClientHeight: 200}, 100},
		{Metrics{ScrollTop: 900, ScrollHeight: 1000, ClientHeight: 200}, 100},
		{Metrics{ScrollTop: 0, ScrollHeight: 200, ClientHeight: 200}, 100},
	}
	for _, tc := range cases {
		if got := tc.m.Progress(); got != tc.want {
			t.Fatalf("%+v 期望 %d，实际 %d", tc.m, tc.want, got)
		}
	}
}
