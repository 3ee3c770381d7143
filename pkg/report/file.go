// pkg/report/file.go

package report

import (
	"os"
	"path/filepath"

	cerr "github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// WriteYAML writes the machine readable report to path.
func (r Report) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return cerr.Wrap(err, "marshal report")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return cerr.Wrapf(err, "create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return cerr.Wrapf(err, "write report %s", path)
	}
	return nil
}

// ReadYAML loads a report written by WriteYAML.
func ReadYAML(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path)
	if err != nil {
		return r, cerr.Wrapf(err, "read report %s", path)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, cerr.Wrapf(err, "parse report %s", path)
	}
	return r, nil
}
