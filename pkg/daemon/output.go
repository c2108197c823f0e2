package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/maxgio92/xstat/pkg/report"
)

const (
	ReportExt = ".json"
	DOTExt    = ".dot"
	GraphExt  = ".graph.zst"
)

// OutputPath returns the path of the session file with extension ext.
func (d *Daemon) OutputPath(ext string) string {
	return filepath.Join(d.outputDir, fmt.Sprintf("%s.%d%s", d.filePrefix, d.rank, ext))
}

// flush writes the session files when an output directory is set. Failures
// are logged.
func (d *Daemon) flush() {
	if d.outputDir == "" {
		return
	}
	if err := d.writeOutputs(); err != nil {
		d.logger.Warn().Err(err).Str("dir", d.outputDir).Msg("failed to write session files")
		return
	}
	d.logger.Info().Str("dir", d.outputDir).Msg("session files written")
}

func (d *Daemon) writeOutputs() error {
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "error creating output directory")
	}

	var result *multierror.Error
	for ext, write := range map[string]func(*os.File) error{
		ReportExt: d.writeReport,
		DOTExt:    d.writeDOT,
		GraphExt:  d.writeGraph,
	} {
		if err := writeFile(d.OutputPath(ext), write); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "error writing %s", path)
	}
	return errors.Wrapf(f.Close(), "error closing %s", path)
}

func (d *Daemon) writeReport(f *os.File) error {
	table := d.controller.Table()
	r := report.NewSessionReport(
		report.WithReportRank(int(d.rank)),
		report.WithReportHost(table.Host()),
		report.WithReportSampleMode(d.controller.Flags().String()),
		report.WithReportRounds(d.controller.Rounds()),
		report.WithReportProcesses(table.Slots()),
		report.WithReportGraph(d.controller.Session()),
	)
	return r.WriteReport(f)
}

func (d *Daemon) writeDOT(f *os.File) error {
	return d.controller.Session().WriteDOT(f)
}

func (d *Daemon) writeGraph(f *os.File) error {
	enc, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if _, err := enc.Write(d.controller.Session().Encode()); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
