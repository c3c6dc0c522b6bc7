package logs

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ReassembledFile is the name of the file the parts of a directory are joined into
const ReassembledFile = "reassembled.log"

// Reassemble copies Dir(name) to Dir(name)-reassembled and, in each
// directory, joins the "<log>.partN" files into one reassembled.log in part
// order. The downloaded logs are left intact.
func (r *Retriever) Reassemble(name string) (string, error) {
	src := r.Dir(name)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("%w: %s", ErrLogsNotRetrieved, src)
	}
	dest := r.Dir(name + "-reassembled")
	if _, err := os.Stat(dest); err == nil {
		fmt.Fprintf(r.out, "Removing previous %s-reassembled directory\n", name)
		if err := os.RemoveAll(dest); err != nil {
			return "", err
		}
	}

	parts := make(map[string][]string)
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if _, ok := partNumber(d.Name()); ok {
			dir := filepath.Dir(target)
			parts[dir] = append(parts[dir], path)
			return nil
		}
		return copyFile(path, target)
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy %s: %w", src, err)
	}

	for dir, files := range parts {
		if err := joinParts(dir, files); err != nil {
			return "", err
		}
		fmt.Fprintf(r.out, "Created reassembled file at %s\n", filepath.Join(dir, ReassembledFile))
	}
	return dest, nil
}

// partNumber extracts N from names like "antnode.log.part12"
func partNumber(name string) (int, bool) {
	i := strings.LastIndex(name, ".part")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[i+len(".part"):])
	if err != nil {
		return 0, false
	}
	return n, true
}

func joinParts(dir string, files []string) error {
	sort.Slice(files, func(i, j int) bool {
		a, _ := partNumber(filepath.Base(files[i]))
		b, _ := partNumber(filepath.Base(files[j]))
		return a < b
	})

	out, err := os.Create(filepath.Join(dir, ReassembledFile))
	if err != nil {
		return err
	}
	defer out.Close()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		// the shipper writes newlines as a literal backslash-n
		if _, err := out.Write(bytes.ReplaceAll(data, []byte(`\n`), []byte("\n"))); err != nil {
			return err
		}
	}
	return out.Close()
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}
