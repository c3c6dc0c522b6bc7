package logs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/ssh"
	"github.com/cuemby/testnet-deploy/pkg/storage"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

const (
	// Bucket holds the logs shipped by the VMs
	Bucket = "sn-testnet"
	// NodeLogDir is where node services write their logs
	NodeLogDir = "/mnt/antnode-storage/log/"
	// UploaderLogDir is where uploader services write their logs
	UploaderLogDir = "/mnt/ant-storage/logs/"
	// MaxConcurrentSyncs bounds the rsync processes run at once
	MaxConcurrentSyncs = 50
)

// ErrLogsNotRetrieved is returned when reassembling logs that were never downloaded
var ErrLogsNotRetrieved = errors.New("logs have not been retrieved")

// RsyncOptions narrows an rsync run
type RsyncOptions struct {
	// VMFilter keeps only the VMs whose name contains it
	VMFilter string
	// DisableUploaderLogs skips the uploader VMs
	DisableUploaderLogs bool
}

// Retriever copies logs from an environment's VMs into a local directory
// tree, one subdirectory per VM
type Retriever struct {
	runner         command.Runner
	store          storage.ObjectStore
	privateKeyPath string
	routes         ssh.RoutingTable
	root           string
	out            io.Writer
}

// NewRetriever creates a retriever writing below root, normally ./logs
func NewRetriever(runner command.Runner, store storage.ObjectStore, privateKeyPath, root string) *Retriever {
	return &Retriever{
		runner:         runner,
		store:          store,
		privateKeyPath: privateKeyPath,
		root:           root,
		out:            os.Stdout,
	}
}

// WithRoutes reaches private hosts through their NAT gateway
func (r *Retriever) WithRoutes(routes ssh.RoutingTable) *Retriever {
	r.routes = routes
	return r
}

// WithOutput sets where progress is printed
func (r *Retriever) WithOutput(w io.Writer) *Retriever {
	r.out = w
	return r
}

// Dir returns the local directory for an environment's logs
func (r *Retriever) Dir(name string) string {
	return filepath.Join(r.root, name)
}

// SyncResult reports which VMs could not be synced
type SyncResult struct {
	Synced int
	Failed map[string]error
}

// Rsync pulls the logs of every VM into Dir(name)/<vm>. Rerunning it only
// transfers changed files. A failed rsync is retried once after the VM's
// host key is removed from known_hosts, since recreated VMs reuse addresses.
func (r *Retriever) Rsync(ctx context.Context, name string, vms []types.VirtualMachine, opts RsyncOptions) (SyncResult, error) {
	result := SyncResult{Failed: make(map[string]error)}
	vms = filterVMs(vms, opts)
	if len(vms) == 0 {
		fmt.Fprintln(r.out, "No VMs matched; nothing to sync")
		return result, nil
	}

	logger := log.WithEnvironment(name)
	logger.Info().Int("vms", len(vms)).Msg("Syncing logs")

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentSyncs)
	for _, vm := range vms {
		g.Go(func() error {
			dest := filepath.Join(r.Dir(name), vm.Name)
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dest, err)
			}
			err := r.syncVM(ctx, vm, dest)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[vm.Name] = err
				fmt.Fprintf(r.out, "Failed to rsync logs from %s: %v\n", vm.Name, err)
				return nil
			}
			result.Synced++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	fmt.Fprintf(r.out, "Synced logs from %d VMs into %s\n", result.Synced, r.Dir(name))
	if len(result.Failed) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, "WARNING!")
		fmt.Fprintf(r.out, "Logs could not be synced from %d VMs. Re-run the logs rsync command with --vm-filter for:\n", len(result.Failed))
		for vmName := range result.Failed {
			fmt.Fprintf(r.out, "  %s\n", vmName)
		}
	}
	return result, nil
}

func (r *Retriever) syncVM(ctx context.Context, vm types.VirtualMachine, dest string) error {
	cmd := command.Cmd{Binary: "rsync", Args: r.rsyncArgs(vm, dest), Quiet: true}
	if _, err := r.runner.Run(ctx, cmd); err == nil {
		return nil
	}

	logger := log.WithVM(vm.Name)
	logger.Debug().Msg("rsync failed, resetting host key and retrying")
	if _, err := r.runner.Run(ctx, command.Cmd{
		Binary: "ssh-keygen",
		Args:   []string{"-R", vm.PublicIP.String()},
		Quiet:  true,
	}); err != nil {
		return fmt.Errorf("failed to remove host key of %s: %w", vm.PublicIP, err)
	}
	if _, err := r.runner.Run(ctx, cmd); err != nil {
		return err
	}
	return nil
}

func (r *Retriever) rsyncArgs(vm types.VirtualMachine, dest string) []string {
	remote := NodeLogDir
	if isUploader(vm) {
		remote = UploaderLogDir
	}
	return []string{
		"-az",
		"--rsh", r.remoteShell(vm.PublicIP),
		fmt.Sprintf("root@%s:%s", vm.PublicIP, remote),
		dest + string(filepath.Separator),
	}
}

func (r *Retriever) remoteShell(ip netip.Addr) string {
	parts := []string{
		"ssh", "-i", r.privateKeyPath,
		"-q",
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", ssh.ConnectTimeout),
		"-o", "StrictHostKeyChecking=no",
	}
	if gateway, ok := r.routes.GatewayFor(ip); ok {
		parts = append(parts, "-o", fmt.Sprintf("'%s'", ssh.ProxyCommand(gateway, r.privateKeyPath)))
	}
	return strings.Join(parts, " ")
}

func isUploader(vm types.VirtualMachine) bool {
	return strings.Contains(vm.Name, "-uploader-")
}

func filterVMs(vms []types.VirtualMachine, opts RsyncOptions) []types.VirtualMachine {
	var kept []types.VirtualMachine
	for _, vm := range vms {
		if opts.VMFilter != "" && !strings.Contains(vm.Name, opts.VMFilter) {
			continue
		}
		if opts.DisableUploaderLogs && isUploader(vm) {
			continue
		}
		kept = append(kept, vm)
	}
	return kept
}

// Remove deletes the local copy of an environment's logs
func (r *Retriever) Remove(name string) error {
	dir := r.Dir(name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	fmt.Fprintf(r.out, "Removed %s\n", dir)
	return nil
}

func storePrefix(name string) string {
	return fmt.Sprintf("testnet-logs/%s/", name)
}

// Download copies the logs the VMs shipped to the object store into Dir(name)
func (r *Retriever) Download(ctx context.Context, name string) (int, error) {
	prefix := storePrefix(name)
	keys, err := r.store.List(ctx, Bucket, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	for _, key := range keys {
		data, err := r.store.Get(ctx, Bucket, key)
		if err != nil {
			return 0, fmt.Errorf("failed to get %s: %w", key, err)
		}
		rel := filepath.FromSlash(strings.TrimPrefix(key, prefix))
		path := filepath.Join(r.Dir(name), rel)
		if !strings.HasPrefix(path, r.Dir(name)+string(filepath.Separator)) {
			return 0, fmt.Errorf("refusing to write %s outside %s", key, r.Dir(name))
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return 0, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	fmt.Fprintf(r.out, "Downloaded %d log files into %s\n", len(keys), r.Dir(name))
	return len(keys), nil
}

// DeleteRemote removes an environment's logs from the object store
func (r *Retriever) DeleteRemote(ctx context.Context, name string) error {
	prefix := storePrefix(name)
	keys, err := r.store.List(ctx, Bucket, prefix)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	for _, key := range keys {
		if err := r.store.Delete(ctx, Bucket, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	fmt.Fprintf(r.out, "Deleted %d log files from %s/%s\n", len(keys), Bucket, prefix)
	return nil
}
