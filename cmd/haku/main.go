package main

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scribbles-wall/haku"
)

var (
	limitsPath string
	outputPath string
	width      int
	height     int
	translateX float32
	translateY float32
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "haku <file.hk>",
	Short: "Compile and run a haku brush program",
	Long: `haku compiles a brush source file, evaluates its toplevel expression,
and prints the resulting value. Diagnostics (compile errors) and exceptions
(runtime errors) are reported distinctly, matching the two error channels
the language itself keeps separate.`,
	Args:          cobra.ExactArgs(1),
	RunE:          runBrush,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var renderCmd = &cobra.Command{
	Use:   "render <file.hk>",
	Short: "Compile, evaluate, and render a brush program to a PNG",
	Args:  cobra.ExactArgs(1),
	RunE:  renderBrush,
}

var disasmCmd = &cobra.Command{
	Use:   "disasm <file.hk>",
	Short: "Compile a brush program and print its bytecode",
	Args:  cobra.ExactArgs(1),
	RunE:  disasmBrush,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&limitsPath, "limits", "", "YAML file overriding the default resource limits")
	renderCmd.Flags().StringVarP(&outputPath, "output", "o", "out.png", "output PNG path")
	renderCmd.Flags().IntVar(&width, "width", 256, "pixmap width")
	renderCmd.Flags().IntVar(&height, "height", 256, "pixmap height")
	renderCmd.Flags().Float32Var(&translateX, "tx", 0, "X translation applied before rendering")
	renderCmd.Flags().Float32Var(&translateY, "ty", 0, "Y translation applied before rendering")
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(disasmCmd)
}

func loadLimits() (haku.Limits, error) {
	limits := haku.DefaultLimits()
	if limitsPath == "" {
		return limits, nil
	}
	raw, err := os.ReadFile(limitsPath)
	if err != nil {
		return limits, fmt.Errorf("reading limits: %w", err)
	}
	if err := yaml.Unmarshal(raw, &limits); err != nil {
		return limits, fmt.Errorf("parsing limits: %w", err)
	}
	return limits, nil
}

var (
	errorHeading = color.New(color.FgRed, color.Bold)
	spanStyle    = color.New(color.FgCyan)
)

func reportDiagnostics(source string, diagnostics []haku.Diagnostic) {
	lines := haku.NewLineIndex(source)
	for _, d := range diagnostics {
		start, _ := lines.Span(d.Span)
		errorHeading.Fprint(os.Stderr, "error")
		spanStyle.Fprintf(os.Stderr, " %d:%d", start.Line, start.Column)
		fmt.Fprintf(os.Stderr, ": %s\n", d.Message)
	}
}

func compileBrush(path string) (*haku.Haku, string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", path, err)
	}

	limits, err := loadLimits()
	if err != nil {
		return nil, "", err
	}

	h := haku.New(limits)
	diagnostics, err := h.SetBrush(string(source))
	if err != nil {
		if len(diagnostics) > 0 {
			reportDiagnostics(string(source), diagnostics)
			return nil, "", fmt.Errorf("%d diagnostic(s) emitted", len(diagnostics))
		}
		return nil, "", err
	}
	return h, string(source), nil
}

func evalBrush(path string) (*haku.Haku, haku.Value, error) {
	h, _, err := compileBrush(path)
	if err != nil {
		return nil, haku.Value{}, err
	}
	value, err := h.EvalBrush()
	if err != nil {
		var hakuErr *haku.HakuError
		if errors.As(err, &hakuErr) && hakuErr.Status.IsException() {
			errorHeading.Fprint(os.Stderr, "exception")
			fmt.Fprintf(os.Stderr, ": %v\n", hakuErr.Err)
		}
		return nil, haku.Value{}, fmt.Errorf("evaluating brush: %w", err)
	}
	return h, value, nil
}

func runBrush(cmd *cobra.Command, args []string) error {
	_, value, err := evalBrush(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value.String())
	return nil
}

func renderBrush(cmd *cobra.Command, args []string) error {
	h, value, err := evalBrush(args[0])
	if err != nil {
		return err
	}

	pixmap := haku.NewPixmap(width, height)
	if err := h.RenderValue(pixmap, value, translateX, translateY); err != nil {
		return fmt.Errorf("rendering brush: %w", err)
	}

	// Pixmap and image.RGBA share the premultiplied RGBA8 layout.
	img := &image.RGBA{
		Pix:    pixmap.Pix,
		Stride: pixmap.Width * 4,
		Rect:   image.Rect(0, 0, pixmap.Width, pixmap.Height),
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outputPath, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	fmt.Printf("wrote %s\n", outputPath)
	return nil
}

func disasmBrush(cmd *cobra.Command, args []string) error {
	h, _, err := compileBrush(args[0])
	if err != nil {
		return err
	}
	chunkID, ok := h.BrushChunk()
	if !ok {
		return fmt.Errorf("no brush compiled")
	}
	fmt.Print(haku.Disassemble(h.System().Chunk(chunkID)))
	return nil
}
