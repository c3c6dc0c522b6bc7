package logs

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/cuemby/testnet-deploy/pkg/ssh"
	"github.com/cuemby/testnet-deploy/pkg/storage"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

func vm(name, ip string) types.VirtualMachine {
	return types.VirtualMachine{Name: name, PublicIP: netip.MustParseAddr(ip)}
}

var (
	node1    = vm("alpha-node-1", "203.0.113.11")
	node2    = vm("alpha-node-2", "203.0.113.12")
	uploader = vm("alpha-uploader-1", "203.0.113.41")
)

type fixture struct {
	runner    *command.FakeRunner
	retriever *Retriever
	out       *bytes.Buffer
	root      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		runner: command.NewFakeRunner(),
		out:    &bytes.Buffer{},
		root:   filepath.Join(t.TempDir(), "logs"),
	}
	f.retriever = NewRetriever(f.runner, nil, "/keys/id_ed25519", f.root).WithOutput(f.out)
	return f
}

func (f *fixture) rsyncCommand(v types.VirtualMachine) string {
	dest := filepath.Join(f.retriever.Dir("alpha"), v.Name)
	return command.Cmd{Binary: "rsync", Args: f.retriever.rsyncArgs(v, dest)}.String()
}

var rsyncFailed = command.Response{Err: &command.ExternalCommandRunFailedError{Binary: "rsync", ExitStatus: 255}}

func TestRsync(t *testing.T) {
	f := newFixture(t)
	f.runner.On(f.rsyncCommand(node2), rsyncFailed)
	f.runner.On(f.rsyncCommand(node2), command.Response{})

	result, err := f.retriever.Rsync(context.Background(), "alpha", []types.VirtualMachine{node1, node2, uploader}, RsyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Synced)
	assert.Empty(t, result.Failed)
	assert.Len(t, f.runner.CallsTo("rsync"), 4)

	keygen := f.runner.CallsTo("ssh-keygen")
	require.Len(t, keygen, 1)
	assert.Equal(t, []string{"-R", "203.0.113.12"}, keygen[0].Args)

	for _, v := range []types.VirtualMachine{node1, node2, uploader} {
		assert.DirExists(t, filepath.Join(f.root, "alpha", v.Name))
	}
	assert.NotContains(t, f.out.String(), "WARNING!")
}

func TestRsyncSources(t *testing.T) {
	f := newFixture(t)

	_, err := f.retriever.Rsync(context.Background(), "alpha", []types.VirtualMachine{node1, uploader}, RsyncOptions{})
	require.NoError(t, err)

	sources := map[string]string{}
	for _, c := range f.runner.CallsTo("rsync") {
		sources[c.Args[3]] = c.Args[2]
	}
	assert.Contains(t, sources, "root@203.0.113.11:"+NodeLogDir)
	assert.Contains(t, sources, "root@203.0.113.41:"+UploaderLogDir)
	for _, rsh := range sources {
		assert.True(t, strings.HasPrefix(rsh, "ssh -i /keys/id_ed25519"))
		assert.NotContains(t, rsh, "ProxyCommand")
	}
}

func TestRsyncReportsFailures(t *testing.T) {
	f := newFixture(t)
	f.runner.On(f.rsyncCommand(node2), rsyncFailed)

	result, err := f.retriever.Rsync(context.Background(), "alpha", []types.VirtualMachine{node1, node2}, RsyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Synced)
	require.Contains(t, result.Failed, node2.Name)
	assert.ErrorContains(t, result.Failed[node2.Name], "exit status 255")
	assert.Contains(t, f.out.String(), "WARNING!")
	assert.Contains(t, f.out.String(), "  alpha-node-2")
}

func TestRsyncFilters(t *testing.T) {
	tests := []struct {
		name string
		opts RsyncOptions
		want []string
	}{
		{name: "vm filter", opts: RsyncOptions{VMFilter: "node-1"}, want: []string{"root@203.0.113.11:" + NodeLogDir}},
		{
			name: "no uploader logs",
			opts: RsyncOptions{DisableUploaderLogs: true},
			want: []string{"root@203.0.113.11:" + NodeLogDir, "root@203.0.113.12:" + NodeLogDir},
		},
		{name: "nothing matches", opts: RsyncOptions{VMFilter: "auditor"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.retriever.Rsync(context.Background(), "alpha", []types.VirtualMachine{node1, node2, uploader}, tt.opts)
			require.NoError(t, err)

			var got []string
			for _, c := range f.runner.CallsTo("rsync") {
				got = append(got, c.Args[3])
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestRsyncThroughGateway(t *testing.T) {
	f := newFixture(t)
	private := types.VirtualMachine{Name: "alpha-private-node-1", PublicIP: netip.MustParseAddr("10.0.0.5")}
	gateway := netip.MustParseAddr("203.0.113.2")
	f.retriever.WithRoutes(ssh.RoutingTable{}.RouteThroughGateway(gateway, private.PublicIP))

	_, err := f.retriever.Rsync(context.Background(), "alpha", []types.VirtualMachine{private}, RsyncOptions{})
	require.NoError(t, err)

	calls := f.runner.CallsTo("rsync")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args[2], "root@203.0.113.2 -i")
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.root, "alpha", "alpha-node-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	require.NoError(t, f.retriever.Remove("alpha"))
	assert.NoDirExists(t, filepath.Join(f.root, "alpha"))
}

func TestReassemble(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.root, "alpha", "alpha-node-1", "antnode1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	files := map[string]string{
		"antnode.log.part10": `third\n`,
		"antnode.log.part2":  `second\n`,
		"antnode.log.part1":  `first\n`,
		"resources.log":      "cpu=3%\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	dest, err := f.retriever.Reassemble("alpha")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "alpha-reassembled"), dest)

	outDir := filepath.Join(dest, "alpha-node-1", "antnode1")
	joined, err := os.ReadFile(filepath.Join(outDir, ReassembledFile))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\nthird\n", string(joined))

	assert.FileExists(t, filepath.Join(outDir, "resources.log"))
	assert.NoFileExists(t, filepath.Join(outDir, "antnode.log.part1"))
	assert.FileExists(t, filepath.Join(dir, "antnode.log.part1"), "downloaded logs are left intact")
}

func TestReassembleRequiresLogs(t *testing.T) {
	f := newFixture(t)
	_, err := f.retriever.Reassemble("alpha")
	assert.ErrorIs(t, err, ErrLogsNotRetrieved)
}

func TestPartNumber(t *testing.T) {
	tests := []struct {
		name   string
		want   int
		wantOK bool
	}{
		{name: "antnode.log.part3", want: 3, wantOK: true},
		{name: "antnode.log.part", wantOK: false},
		{name: "antnode.log", wantOK: false},
		{name: "partial.log", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := partNumber(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestDownloadAndDeleteRemote(t *testing.T) {
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, Bucket, "testnet-logs/alpha/alpha-node-1/antnode.log.part1", []byte("one")))
	require.NoError(t, store.Put(ctx, Bucket, "testnet-logs/alpha/alpha-node-2/antnode.log.part1", []byte("two")))
	require.NoError(t, store.Put(ctx, Bucket, "testnet-logs/beta/beta-node-1/antnode.log.part1", []byte("other")))

	f := newFixture(t)
	f.retriever.store = store

	n, err := f.retriever.Download(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	data, err := os.ReadFile(filepath.Join(f.root, "alpha", "alpha-node-2", "antnode.log.part1"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	require.NoError(t, f.retriever.DeleteRemote(ctx, "alpha"))
	left, err := store.List(ctx, Bucket, "testnet-logs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"testnet-logs/beta/beta-node-1/antnode.log.part1"}, left)
}
