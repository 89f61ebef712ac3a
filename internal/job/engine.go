package job

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/process"
)

// item is one page passing through an engine run.
type item struct {
	PID   string
	Image string
	Alto  string
	OCR   string
}

func newItem(dir, pid string, index int) item {
	base := filepath.Join(dir, fmt.Sprintf("%05d", index))
	return item{PID: pid, Image: base + ".jpg", Alto: base + ".xml", OCR: base + ".txt"}
}

// verify checks the engine outputs. OCR may be empty when the page has no
// text, ALTO never is.
func (it item) verify() error {
	if _, err := os.Stat(it.OCR); err != nil {
		return fmt.Errorf("engine produced no OCR for %s", it.PID)
	}
	info, err := os.Stat(it.Alto)
	if err != nil {
		return fmt.Errorf("engine produced no ALTO for %s", it.PID)
	}
	if info.Size() == 0 {
		return fmt.Errorf("engine produced empty ALTO for %s", it.PID)
	}
	return nil
}

func engineBase(engine config.EngineConfig) []string {
	var args []string
	if engine.Entry != "" {
		args = append(args, engine.Entry)
	}
	return args
}

// singleCommand is: exec [entry] -i image -oA alto -oO ocr [additional...]
func singleCommand(engine config.EngineConfig, it item, dir string) process.Command {
	args := engineBase(engine)
	args = append(args,
		engine.InImageArg, it.Image,
		engine.OutAltoArg, it.Alto,
		engine.OutOcrArg, it.OCR,
	)
	args = append(args, engine.AdditionalArgs...)
	return process.Command{Path: engine.Exec, Args: args, Dir: dir, Timeout: engine.Timeout}
}

// batchCommand writes one "image,alto,ocr" line per item to a triplets file
// and returns: exec [entry] -t triplets [additional...]
func batchCommand(engine config.EngineConfig, items []item, dir string) (process.Command, error) {
	path := filepath.Join(dir, "triplets.csv")
	f, err := os.Create(path)
	if err != nil {
		return process.Command{}, fmt.Errorf("create triplets file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, it := range items {
		fmt.Fprintf(w, "%s,%s,%s\n", it.Image, it.Alto, it.OCR)
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return process.Command{}, fmt.Errorf("write triplets file: %w", err)
	}
	if err = f.Close(); err != nil {
		return process.Command{}, fmt.Errorf("close triplets file: %w", err)
	}

	args := engineBase(engine)
	args = append(args, engine.DataTripletsArg, path)
	args = append(args, engine.AdditionalArgs...)
	return process.Command{Path: engine.Exec, Args: args, Dir: dir, Timeout: engine.Timeout}, nil
}
