package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/tscopy/internal/dom"
	"github.com/John-Robertt/tscopy/internal/page"
)

// diagnoseReport 是 diagnose 的 JSON 输出。
type diagnoseReport struct {
	Source string `json:"source"`

	dom.Diagnosis

	ScrollBoxes    []page.ScrollBox `json:"scroll_boxes"`
	Container      *page.ScrollBox  `json:"container,omitempty"`
	ContainerError string           `json:"container_error,omitempty"`
}

func newDiagnoseCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var proxyURL string
	cmd := &cobra.Command{
		Use:   "diagnose <file|url>",
		Short: "输出页面结构线索（selector 失效时用于定位新结构）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &pageFlags{proxyURL: proxyURL}
			eff, err := loadConfig(cmd, g, f)
			if err != nil {
				return failure(err)
			}
			ctx := cmd.Context()
			p, err := openPage(ctx, args[0], eff)
			if err != nil {
				return failure(fmt.Errorf("加载页面失败：%w", err))
			}
			doc, err := p.Snapshot(ctx)
			if err != nil {
				return failure(err)
			}

			rep := diagnoseReport{
				Source:    args[0],
				Diagnosis: dom.Diagnose(doc, dom.NewDiscoverer(eff.ItemSelectors), eff.ContainerSelectors),
			}
			boxes, err := p.ScrollBoxes(ctx, "*")
			if err != nil {
				return failure(err)
			}
			if boxes == nil {
				boxes = []page.ScrollBox{}
			}
			rep.ScrollBoxes = boxes
			if _, box, err := page.Locate(ctx, p, eff.ScrollableSelectors); err != nil {
				rep.ContainerError = err.Error()
			} else {
				rep.Container = &box
			}

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().StringVar(&proxyURL, "proxy", "", "抓取 URL 时使用的代理")
	return cmd
}
