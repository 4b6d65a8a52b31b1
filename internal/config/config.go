package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/John-Robertt/tscopy/internal/dom"
	"github.com/John-Robertt/tscopy/internal/domain"
	"github.com/John-Robertt/tscopy/internal/format"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的文件不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
)

const (
	FileName = "tscopy.json"
	EnvFile  = ".env"
	// EnvPrefix 是环境变量覆盖层的前缀（例如 TSCOPY_WAIT_MS）。
	EnvPrefix = "TSCOPY_"
)

// 内置默认值。
const (
	DefaultScrollStep      = 150
	DefaultWaitMS          = 300
	DefaultInitialDelayMS  = 500
	DefaultMaxIterations   = 1000
	DefaultStuckLimit      = 5
	DefaultListen          = "127.0.0.1:8765"
	DefaultBridgeTimeoutMS = 10000
	DefaultRowHeight       = 48
	DefaultViewportRows    = 12
	DefaultOverscan        = 2

	maxIterationsCap = 100000
)

// CLIArgs 保留“是否显式指定”的信息，保证 --wait=0 这类值也能覆盖下层配置。
type CLIArgs struct {
	// ConfigPath 非空时必须存在（否则 config_not_found）。
	ConfigPath string

	ScrollStep    float64
	ScrollStepSet bool

	WaitMS    int
	WaitMSSet bool

	InitialDelayMS    int
	InitialDelayMSSet bool

	MaxIterations    int
	MaxIterationsSet bool

	OutDir    string
	OutDirSet bool

	ProxyURL    string
	ProxyURLSet bool

	Listen    string
	ListenSet bool
}

// FileConfig 对应 tscopy.json 的解析结构；零值字段表示“未配置”。
type FileConfig struct {
	ScrollStep      float64            `json:"scroll_step"`
	WaitMS          *int               `json:"wait_ms"`
	InitialDelayMS  *int               `json:"initial_delay_ms"`
	MaxIterations   int                `json:"max_iterations"`
	StuckLimit      int                `json:"stuck_limit"`
	Selectors       SelectorsConfig    `json:"selectors"`
	Placeholders    PlaceholdersConfig `json:"placeholders"`
	OutDir          string             `json:"out_dir"`
	Proxy           *ProxyConfig       `json:"proxy"`
	Listen          string             `json:"listen"`
	BridgeTimeoutMS int                `json:"bridge_timeout_ms"`
	Replay          ReplayConfig       `json:"replay"`
}

type SelectorsConfig struct {
	Containers []string `json:"containers"`
	Items      []string `json:"items"`
	Scrollable []string `json:"scrollable"`
}

type PlaceholdersConfig struct {
	Speaker string `json:"speaker"`
	Time    string `json:"time"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

type ReplayConfig struct {
	RowHeight    float64 `json:"row_height"`
	ViewportRows int     `json:"viewport_rows"`
	Overscan     *int    `json:"overscan"`
}

// EffectiveConfig 是合并并校验后的最终配置（下游直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 是实际读取到的配置文件；未读取任何文件时为空。
	ConfigPath string

	ScrollStep    float64
	Wait          time.Duration
	InitialDelay  time.Duration
	MaxIterations int
	StuckLimit    int

	ContainerSelectors  []string
	ItemSelectors       []string
	ScrollableSelectors []string

	Placeholders format.Placeholders

	OutDir        string
	ProxyURL      string
	Listen        string
	BridgeTimeout time.Duration

	ReplayRowHeight    float64
	ReplayViewportRows int
	ReplayOverscan     int
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：%q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：%q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取各层配置并合并为最终配置。
//
// 覆盖优先级（固定，高 -> 低）：
// 1) CLI（仅显式指定的 flag）
// 2) 环境变量 TSCOPY_*（进程环境 > <cwd>/.env）
// 3) 配置文件：--config 指定的文件（必须存在），否则 <cwd>/tscopy.json（可选）
// 4) 内置默认值
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	required := false
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		if required {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		cfgPath = ""
	}

	env, err := readEnv(cwdAbs)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: filepath.Join(cwdAbs, EnvFile), Err: err}
	}

	return merge(cwdAbs, cfgPath, fc, env, cli)
}

// envLayer 是已合并的 TSCOPY_* 变量（key 不含前缀）。
type envLayer map[string]string

// readEnv 读取 <cwd>/.env（可选）并用进程环境覆盖；只保留 TSCOPY_ 前缀的变量。
func readEnv(cwd string) (envLayer, error) {
	out := envLayer{}

	path := filepath.Join(cwd, EnvFile)
	if _, err := os.Stat(path); err == nil {
		m, err := godotenv.Read(path)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			if strings.HasPrefix(k, EnvPrefix) {
				out[strings.TrimPrefix(k, EnvPrefix)] = v
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			out[strings.TrimPrefix(k, EnvPrefix)] = v
		}
	}
	return out, nil
}

func (e envLayer) str(key string) (string, bool) {
	v, ok := e[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e envLayer) intVal(key string) (int, bool, error) {
	v, ok := e.str(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, &Error{Code: ErrCodeInvalid, Path: EnvPrefix + key, Err: fmt.Errorf("不是整数：%q", v)}
	}
	return n, true, nil
}

func (e envLayer) floatVal(key string) (float64, bool, error) {
	v, ok := e.str(key)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, &Error{Code: ErrCodeInvalid, Path: EnvPrefix + key, Err: fmt.Errorf("不是数字：%q", v)}
	}
	return f, true, nil
}

func merge(cwd, cfgPath string, fc FileConfig, env envLayer, cli CLIArgs) (EffectiveConfig, error) {
	invalid := func(err error) error {
		p := cfgPath
		if p == "" {
			p = cwd
		}
		return &Error{Code: ErrCodeInvalid, Path: p, Err: err}
	}

	// scroll_step
	step := float64(DefaultScrollStep)
	if fc.ScrollStep != 0 {
		step = fc.ScrollStep
	}
	if v, ok, err := env.floatVal("SCROLL_STEP"); err != nil {
		return EffectiveConfig{}, err
	} else if ok {
		step = v
	}
	if cli.ScrollStepSet {
		step = cli.ScrollStep
	}
	if step <= 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("scroll_step 必须大于 0，实际 %v", step))
	}

	waitMS, err := layeredInt(DefaultWaitMS, fc.WaitMS, env, "WAIT_MS", cli.WaitMS, cli.WaitMSSet)
	if err != nil {
		return EffectiveConfig{}, err
	}
	delayMS, err := layeredInt(DefaultInitialDelayMS, fc.InitialDelayMS, env, "INITIAL_DELAY_MS", cli.InitialDelayMS, cli.InitialDelayMSSet)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if waitMS < 0 || delayMS < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("wait_ms/initial_delay_ms 不能为负数"))
	}

	maxIter, err := layeredInt(DefaultMaxIterations, nonZero(fc.MaxIterations), env, "MAX_ITERATIONS", cli.MaxIterations, cli.MaxIterationsSet)
	if err != nil {
		return EffectiveConfig{}, err
	}
	// 超出范围截断，不报错
	if maxIter < 1 {
		maxIter = 1
	}
	if maxIter > maxIterationsCap {
		maxIter = maxIterationsCap
	}

	stuck, err := layeredInt(DefaultStuckLimit, nonZero(fc.StuckLimit), env, "STUCK_LIMIT", 0, false)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if stuck < 1 {
		return EffectiveConfig{}, invalid(fmt.Errorf("stuck_limit 必须 >= 1，实际 %d", stuck))
	}

	timeoutMS, err := layeredInt(DefaultBridgeTimeoutMS, nonZero(fc.BridgeTimeoutMS), env, "BRIDGE_TIMEOUT_MS", 0, false)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if timeoutMS <= 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("bridge_timeout_ms 必须大于 0，实际 %d", timeoutMS))
	}

	items := pickList(fc.Selectors.Items, dom.DefaultItemSelectors)
	containers := pickList(fc.Selectors.Containers, dom.DefaultContainerSelectors)
	scrollable := pickList(fc.Selectors.Scrollable, dom.DefaultScrollableSelectors)
	for name, sels := range map[string][]string{
		"selectors.items":      items,
		"selectors.containers": containers,
		"selectors.scrollable": scrollable,
	} {
		if err := dom.ValidateSelectors(sels); err != nil {
			return EffectiveConfig{}, invalid(fmt.Errorf("%s：%w", name, err))
		}
	}

	ph := format.DefaultPlaceholders()
	if fc.Placeholders.Speaker != "" {
		ph.Speaker = fc.Placeholders.Speaker
	}
	if fc.Placeholders.Time != "" {
		ph.Time = fc.Placeholders.Time
	}

	outDir := layeredStr(".", fc.OutDir, env, "OUT_DIR", cli.OutDir, cli.OutDirSet)
	outDir = absCleanFrom(cwd, outDir)

	proxy := ""
	if fc.Proxy != nil {
		proxy = fc.Proxy.URL
	}
	proxy = layeredStr("", proxy, env, "PROXY_URL", cli.ProxyURL, cli.ProxyURLSet)
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, invalid(fmt.Errorf("proxy.url 无效：%q", proxy))
		}
	}

	listen := layeredStr(DefaultListen, fc.Listen, env, "LISTEN", cli.Listen, cli.ListenSet)
	if _, _, err := net.SplitHostPort(listen); err != nil {
		return EffectiveConfig{}, invalid(fmt.Errorf("listen 无效：%w", err))
	}

	rowH := fc.Replay.RowHeight
	if rowH == 0 {
		rowH = DefaultRowHeight
	}
	rows := fc.Replay.ViewportRows
	if rows == 0 {
		rows = DefaultViewportRows
	}
	overscan := DefaultOverscan
	if fc.Replay.Overscan != nil {
		overscan = *fc.Replay.Overscan
	}
	if rowH <= 0 || rows <= 0 || overscan < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("replay 参数无效：row_height=%v viewport_rows=%d overscan=%d", rowH, rows, overscan))
	}

	return EffectiveConfig{
		ConfigPath:          cfgPath,
		ScrollStep:          step,
		Wait:                time.Duration(waitMS) * time.Millisecond,
		InitialDelay:        time.Duration(delayMS) * time.Millisecond,
		MaxIterations:       maxIter,
		StuckLimit:          stuck,
		ContainerSelectors:  containers,
		ItemSelectors:       items,
		ScrollableSelectors: scrollable,
		Placeholders:        ph,
		OutDir:              outDir,
		ProxyURL:            proxy,
		Listen:              listen,
		BridgeTimeout:       time.Duration(timeoutMS) * time.Millisecond,
		ReplayRowHeight:     rowH,
		ReplayViewportRows:  rows,
		ReplayOverscan:      overscan,
	}, nil
}

func layeredInt(def int, file *int, env envLayer, key string, cli int, cliSet bool) (int, error) {
	v := def
	if file != nil {
		v = *file
	}
	if n, ok, err := env.intVal(key); err != nil {
		return 0, err
	} else if ok {
		v = n
	}
	if cliSet {
		v = cli
	}
	return v, nil
}

func layeredStr(def, file string, env envLayer, key, cli string, cliSet bool) string {
	v := def
	if s := strings.TrimSpace(file); s != "" {
		v = s
	}
	if s, ok := env.str(key); ok {
		v = s
	}
	if cliSet {
		v = strings.TrimSpace(cli)
	}
	return v
}

func nonZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func pickList(v, def []string) []string {
	out := make([]string, 0, len(v))
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return base
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
