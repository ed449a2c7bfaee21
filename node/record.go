// File: node/record.go
// On-disk node record: one file per node under the node registry
// directory, listing the services that node has touched (spec §4.5
// "iterate every service that the dead node touched"). Published with
// the same write-tmp-then-rename atomicity service/storage.go uses for
// static descriptors, since a torn read of a partially-written record
// would misclassify cleanup targets.
// License: Apache-2.0
package node

import (
	"bufio"
	"os"
	"strings"

	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/ipcerr"
)

const (
	recordSuffix   = ".node"
	livenessSuffix = ".liveness"
)

func recordPath(dir string, id ids.ID) string {
	return dir + "/iox2_" + id.String() + recordSuffix
}

func livenessPath(dir string, id ids.ID) string {
	return dir + "/iox2_" + id.String() + livenessSuffix
}

// writeRecord atomically (re)publishes the set of services id has
// touched.
func writeRecord(dir string, id ids.ID, services []string) error {
	const op = "node.writeRecord"
	path := recordPath(dir, id)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err).With("id", id.String())
	}
	w := bufio.NewWriter(f)
	for _, s := range services {
		if _, err := w.WriteString(s + "\n"); err != nil {
			f.Close()
			os.Remove(tmp)
			return ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
	}
	return nil
}

// readRecord returns the services listed in id's record file.
func readRecord(dir string, id ids.ID) ([]string, error) {
	const op = "node.readRecord"
	data, err := os.ReadFile(recordPath(dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ipcerr.New(ipcerr.CodeServiceDoesNotExist, op).With("id", id.String())
		}
		return nil, ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var services []string
	for _, l := range lines {
		if l != "" {
			services = append(services, l)
		}
	}
	return services, nil
}

func removeRecord(dir string, id ids.ID) error {
	if err := os.Remove(recordPath(dir, id)); err != nil && !os.IsNotExist(err) {
		return ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, "node.removeRecord", err)
	}
	return nil
}
