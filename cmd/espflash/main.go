// Command espflash is a cobra CLI wiring the ROM/stub loader session,
// the reset sequencer, and the embedded-filesystem codecs into
// flash/read/erase/info/list/fs/nvs/reg subcommands, generalized from
// the teacher's single hard-coded ESP32-C3 device to the full chip
// registry.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"espflash/internal/chip"
	"espflash/internal/eventlog"
	"espflash/internal/fsimage"
	"espflash/internal/fsimage/fatfs"
	"espflash/internal/fsimage/littlefs"
	"espflash/internal/fsimage/spiffs"
	"espflash/internal/flasher"
	"espflash/internal/nvs"
	"espflash/internal/parttab"
	"espflash/internal/protocol"
	"espflash/internal/reset"
	"espflash/internal/stub"
	"espflash/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag     string
	baudFlag     int
	familyFlag   string
	verifyFlag   bool
	compressFlag bool
	log          = logrus.New()
)

func main() {
	root := &cobra.Command{
		Use:   "espflash",
		Short: "Flash, inspect and edit ESP-family devices and flash images",
	}
	root.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "serial port (auto-detected if omitted)")
	root.PersistentFlags().IntVarP(&baudFlag, "baud", "b", 115200, "UART baud rate for the initial sync")
	root.PersistentFlags().StringVar(&familyFlag, "family", "", "expected chip family, informational only (auto-detected)")

	root.AddCommand(
		newFlashCmd(),
		newReadCmd(),
		newEraseCmd(),
		newInfoCmd(),
		newListCmd(),
		newRegCmd(),
		newFSCmd(),
		newNVSCmd(),
		newPartTabCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "espflash:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("espflash %s (%s) built %s\n", version, commit, date)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List candidate serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.ListSerialPorts()
			if err != nil {
				return fmt.Errorf("list ports: %w", err)
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			return nil
		},
	}
}

// openSession opens the transport at portFlag (or the sole detected
// port when unset), syncs, detects the chip, and resolves its revision.
// It mirrors the teacher's runFlash/runInfo connect sequence, generalized
// across the chip registry instead of one hard-coded family.
func openSession(ctx context.Context) (*transport.SerialTransport, *protocol.Session, error) {
	port := portFlag
	if port == "" {
		ports, err := transport.ListSerialPorts()
		if err != nil {
			return nil, nil, fmt.Errorf("list ports: %w", err)
		}
		if len(ports) != 1 {
			return nil, nil, fmt.Errorf("--port not given and %d candidate ports found (need exactly 1)", len(ports))
		}
		port = ports[0]
	}

	t := transport.NewSerial(port, 0, 0)
	if err := t.Open(ctx, baudFlag); err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", port, err)
	}

	sink := eventlog.NewLogrusSink(eventlog.NewLogrus(log))
	sess := protocol.NewSession(t, eventlog.NewLogrus(log), sink)

	if err := reset.Classic(t, true); err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("reset into download mode: %w", err)
	}
	if err := sess.Sync(ctx); err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("sync: %w", err)
	}
	d, err := sess.DetectChip(ctx)
	if err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("detect chip: %w", err)
	}
	rev, err := chip.ReadRevision(ctx, d, sess)
	if err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("read chip revision: %w", err)
	}
	sess.SetRevision(rev)
	checkFamilyFlag(d)
	return t, sess, nil
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Detect and print the connected chip's identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			t, sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer t.Close()

			d := sess.Descriptor()
			fmt.Printf("Port:     %s\n", t.Info().Name)
			fmt.Printf("Chip:     %s\n", d.Name)
			fmt.Printf("Revision: %d\n", sess.Revision())
			return nil
		},
	}
}

func newRegCmd() *cobra.Command {
	var addr uint32
	var value uint32
	var mask uint32

	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read a 32-bit register",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			t, sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer t.Close()
			v, err := sess.ReadReg(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Printf("0x%08X = 0x%08X\n", addr, v)
			return nil
		},
	}
	readCmd.Flags().Uint32Var(&addr, "addr", 0, "register address")
	readCmd.MarkFlagRequired("addr")

	writeCmd := &cobra.Command{
		Use:   "write",
		Short: "Write a 32-bit register",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			t, sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer t.Close()
			return sess.WriteReg(ctx, addr, value, mask)
		},
	}
	writeCmd.Flags().Uint32Var(&addr, "addr", 0, "register address")
	writeCmd.Flags().Uint32Var(&value, "value", 0, "value to write")
	writeCmd.Flags().Uint32Var(&mask, "mask", 0xFFFFFFFF, "write mask")
	writeCmd.MarkFlagRequired("addr")

	regCmd := &cobra.Command{
		Use:   "reg",
		Short: "Read or write a chip register directly",
	}
	regCmd.AddCommand(readCmd, writeCmd)
	return regCmd
}

func withStub(ctx context.Context, sess *protocol.Session, sp stub.Provider) error {
	if sp == nil {
		return nil
	}
	img, err := sp.StubFor(sess.Descriptor())
	if err != nil {
		return fmt.Errorf("resolve stub: %w", err)
	}
	if err := stub.Upload(ctx, sess, img); err != nil {
		log.Warnf("stub upload failed, continuing in ROM mode: %v", err)
	}
	return nil
}

func newFlashCmd() *cobra.Command {
	var address uint32
	var partitionSpecs []string
	var noStub bool
	var stubFile string
	var stubEntry uint32

	cmd := &cobra.Command{
		Use:   "flash [image.bin]",
		Short: "Write a flash image at the given address, or one or more --partition name=file pairs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(partitionSpecs) == 0 && len(args) == 0 {
				return fmt.Errorf("flash: need either an image argument or at least one --partition name=file")
			}
			if len(partitionSpecs) > 0 && len(args) > 0 {
				return fmt.Errorf("flash: --partition and a positional image argument are mutually exclusive")
			}

			ctx := context.Background()
			t, sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer t.Close()

			f := flasher.New(sess)
			if !noStub || len(partitionSpecs) > 0 {
				var provider stub.Provider = stubDefault{}
				if stubFile != "" {
					provider = fileStubProvider{path: stubFile, entry: stubEntry}
				}
				if err := withStub(ctx, sess, provider); err != nil {
					if len(partitionSpecs) > 0 {
						return fmt.Errorf("--partition requires stub mode: %w", err)
					}
					log.Debugf("stub mode unavailable: %v", err)
				}
			}
			if err := f.Attach(ctx); err != nil {
				return err
			}

			var regions []flasher.Region
			if len(partitionSpecs) > 0 {
				regions, err = resolvePartitionRegions(ctx, f, partitionSpecs)
				if err != nil {
					return err
				}
			} else {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read %s: %w", args[0], err)
				}
				regions = []flasher.Region{{Offset: address, Data: data, Name: args[0]}}
			}

			bar := progressbar.NewOptions(100,
				progressbar.OptionSetDescription("flashing"),
				progressbar.OptionShowBytes(false),
			)
			f.SetProgressCallback(func(current, total int) {
				bar.Set(current * 100 / max1(total))
			})

			compress := compressFlag && sess.Mode() == protocol.ModeStub
			if err := f.WriteRegions(ctx, regions, compress, verifyFlag); err != nil {
				return fmt.Errorf("write image: %w", err)
			}

			strat, err := reset.Select(ctx, sess.Descriptor(), sess.Revision(), sess)
			if err != nil {
				return fmt.Errorf("select reset strategy: %w", err)
			}
			return reset.Run(ctx, strat, sess.Descriptor(), t, sess, eventlog.NewLogrusSink(eventlog.NewLogrus(log)), false)
		},
	}
	cmd.Flags().Uint32Var(&address, "address", 0x10000, "flash offset to write at (ignored when --partition is used)")
	cmd.Flags().StringArrayVar(&partitionSpecs, "partition", nil, "name=file pair resolving a partition label via the device's partition table instead of --address; repeatable (e.g. --partition nvs=nvs.bin)")
	cmd.Flags().BoolVar(&verifyFlag, "verify", true, "verify with SPI_FLASH_MD5 after writing")
	cmd.Flags().BoolVar(&compressFlag, "compress", true, "use DEFLATE-compressed writes in stub mode")
	cmd.Flags().BoolVar(&noStub, "no-stub", false, "stay in ROM loader mode, skip stub upload")
	cmd.Flags().StringVar(&stubFile, "stub-file", "", "path to a compiled stub RAM image to upload before flashing")
	cmd.Flags().Uint32Var(&stubEntry, "stub-entry", 0, "stub entry point (defaults to the chip's registered StubEntryAddr)")
	return cmd
}

func max1(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

// resolvePartitionTable reads the partition table live from the device
// (stub mode required, same as any other flash read) and parses it.
func resolvePartitionTable(ctx context.Context, f *flasher.Flasher) ([]parttab.Entry, error) {
	raw, err := f.ReadRegion(ctx, parttab.TableOffset, parttab.TableSize, flasher.DesktopNative)
	if err != nil {
		return nil, fmt.Errorf("read partition table: %w", err)
	}
	entries, err := parttab.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse partition table: %w", err)
	}
	return entries, nil
}

// resolvePartition looks up name against the device's live partition
// table, so flash/read/erase can take a partition label instead of a raw
// --address/--offset.
func resolvePartition(ctx context.Context, f *flasher.Flasher, name string) (parttab.Entry, error) {
	entries, err := resolvePartitionTable(ctx, f)
	if err != nil {
		return parttab.Entry{}, err
	}
	e, ok := parttab.FindByLabel(entries, name)
	if !ok {
		return parttab.Entry{}, fmt.Errorf("partition table: no partition named %q", name)
	}
	return e, nil
}

// resolvePartitionRegions turns "name=file" specs (spec §12's
// `--partition nvs=nvs.bin` form) into flasher.Regions, resolving each
// name against a single read of the live partition table.
func resolvePartitionRegions(ctx context.Context, f *flasher.Flasher, specs []string) ([]flasher.Region, error) {
	entries, err := resolvePartitionTable(ctx, f)
	if err != nil {
		return nil, err
	}

	regions := make([]flasher.Region, 0, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("--partition %q: want name=file", spec)
		}
		entry, ok := parttab.FindByLabel(entries, name)
		if !ok {
			return nil, fmt.Errorf("partition table: no partition named %q", name)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if uint32(len(data)) > entry.Size {
			return nil, fmt.Errorf("%s is %d bytes, partition %q is only %d bytes", path, len(data), name, entry.Size)
		}
		regions = append(regions, flasher.Region{Offset: entry.Offset, Data: data, Name: name})
	}
	return regions, nil
}

func newReadCmd() *cobra.Command {
	var offset, size uint32
	var partitionSpec string
	var out string
	var stubFile string
	var stubEntry uint32

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a flash region to a file (requires stub mode)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if partitionSpec == "" && size == 0 {
				return fmt.Errorf("read: need either --partition or --size")
			}

			ctx := context.Background()
			t, sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer t.Close()

			var provider stub.Provider = stubDefault{}
			if stubFile != "" {
				provider = fileStubProvider{path: stubFile, entry: stubEntry}
			}
			if err := withStub(ctx, sess, provider); err != nil {
				return fmt.Errorf("read requires stub mode: %w", err)
			}

			f := flasher.New(sess)
			if partitionSpec != "" {
				entry, err := resolvePartition(ctx, f, partitionSpec)
				if err != nil {
					return err
				}
				offset, size = entry.Offset, entry.Size
			}

			data, err := f.ReadRegion(ctx, offset, size, flasher.DesktopNative)
			if err != nil {
				return fmt.Errorf("read region: %w", err)
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().Uint32Var(&offset, "offset", 0, "flash offset to read from")
	cmd.Flags().Uint32Var(&size, "size", 0, "number of bytes to read")
	cmd.Flags().StringVar(&partitionSpec, "partition", "", "partition label to resolve via the device's partition table instead of --offset/--size")
	cmd.Flags().StringVarP(&out, "output", "o", "flash.bin", "output file")
	cmd.Flags().StringVar(&stubFile, "stub-file", "", "path to a compiled stub RAM image to upload before reading")
	cmd.Flags().Uint32Var(&stubEntry, "stub-entry", 0, "stub entry point (defaults to the chip's registered StubEntryAddr)")
	return cmd
}

// stubDefault is a Provider with no stub images: espflash ships none of
// its own, matching the teacher's never-upload-a-stub behavior. It only
// exists so read/flash can attempt an upgrade to stub mode when a caller
// wires in a real Provider (e.g. via a build-time embed) without
// espflash itself needing to fabricate one.
type stubDefault struct{}

func (stubDefault) StubFor(d chip.Descriptor) (stub.Image, error) {
	return stub.Image{}, fmt.Errorf("no stub image bundled for %s", d.Name)
}

// fileStubProvider loads a single raw stub blob from disk for whichever
// chip is detected, set via --stub-file/--stub-entry. It's the CLI's
// stand-in for the "build-time embed" a real product would wire into
// stub.Provider, since espflash carries no compiled stubs of its own.
type fileStubProvider struct {
	path  string
	entry uint32
}

func (p fileStubProvider) StubFor(d chip.Descriptor) (stub.Image, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return stub.Image{}, fmt.Errorf("read stub file %s: %w", p.path, err)
	}
	entry := p.entry
	if entry == 0 {
		entry = d.StubEntryAddr
	}
	return stub.Image{Data: data, EntryPoint: entry}, nil
}

func newEraseCmd() *cobra.Command {
	var offset, size uint32
	var partitionSpec string
	var full bool
	var stubFile string
	var stubEntry uint32

	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase the whole chip or a region",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			t, sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer t.Close()

			f := flasher.New(sess)
			if full {
				return f.EraseChip(ctx)
			}

			if partitionSpec != "" {
				var provider stub.Provider = stubDefault{}
				if stubFile != "" {
					provider = fileStubProvider{path: stubFile, entry: stubEntry}
				}
				if err := withStub(ctx, sess, provider); err != nil {
					return fmt.Errorf("--partition requires stub mode: %w", err)
				}
				entry, err := resolvePartition(ctx, f, partitionSpec)
				if err != nil {
					return err
				}
				offset, size = entry.Offset, entry.Size
			}
			return f.EraseRegion(ctx, offset, size)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "erase the entire chip")
	cmd.Flags().Uint32Var(&offset, "offset", 0, "region offset")
	cmd.Flags().Uint32Var(&size, "size", 0, "region size")
	cmd.Flags().StringVar(&partitionSpec, "partition", "", "partition label to resolve via the device's partition table instead of --offset/--size")
	cmd.Flags().StringVar(&stubFile, "stub-file", "", "path to a compiled stub RAM image to upload before resolving --partition")
	cmd.Flags().Uint32Var(&stubEntry, "stub-entry", 0, "stub entry point (defaults to the chip's registered StubEntryAddr)")
	return cmd
}

// newFSCmd builds the fs subcommand tree for inspecting LittleFS/SPIFFS/
// FAT images without any device attached, working purely on a local
// image file.
func newFSCmd() *cobra.Command {
	var imagePath string
	var esp8266 bool

	fsCmd := &cobra.Command{
		Use:   "fs",
		Short: "Inspect an embedded filesystem image",
	}
	fsCmd.PersistentFlags().StringVar(&imagePath, "image", "", "path to the filesystem image")
	fsCmd.MarkPersistentFlagRequired("image")
	fsCmd.PersistentFlags().BoolVar(&esp8266, "esp8266", false, "use ESP8266 block-size candidates instead of desktop ones")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every file in the image",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return err
			}
			sizes := fsimage.DesktopBlockSizes
			if esp8266 {
				sizes = fsimage.ESP8266BlockSizes
			}
			format, blockSize := fsimage.Detect(data, sizes)
			switch format {
			case fsimage.LittleFS:
				img, err := littlefs.Mount(data, sizes, esp8266)
				if err != nil {
					return err
				}
				names, err := img.List("/")
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				fmt.Printf("# format=littlefs block=%d used=%d\n", blockSize, img.EstimateUsed())
			case fsimage.FAT:
				img, err := fatfs.Mount(data)
				if err != nil {
					return err
				}
				names, err := img.List()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				fmt.Println("# format=fat")
			case fsimage.SPIFFS:
				img, err := spiffs.Mount(data, spiffs.DesktopSizes)
				if err != nil {
					return err
				}
				for _, n := range img.List() {
					fmt.Println(n)
				}
				fmt.Println("# format=spiffs")
			default:
				return fmt.Errorf("fs: unrecognized filesystem image")
			}
			return nil
		},
	}

	var readPath, readOut string
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Extract a single file from the image",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return err
			}
			sizes := fsimage.DesktopBlockSizes
			if esp8266 {
				sizes = fsimage.ESP8266BlockSizes
			}
			format, _ := fsimage.Detect(data, sizes)
			var out []byte
			switch format {
			case fsimage.LittleFS:
				img, err := littlefs.Mount(data, sizes, esp8266)
				if err != nil {
					return err
				}
				if out, err = img.Read(readPath); err != nil {
					return err
				}
			case fsimage.FAT:
				img, err := fatfs.Mount(data)
				if err != nil {
					return err
				}
				if out, err = img.Read(readPath); err != nil {
					return err
				}
			case fsimage.SPIFFS:
				img, err := spiffs.Mount(data, spiffs.DesktopSizes)
				if err != nil {
					return err
				}
				if out, err = img.Read(readPath); err != nil {
					return err
				}
			default:
				return fmt.Errorf("fs: unrecognized filesystem image")
			}
			if readOut == "" {
				os.Stdout.Write(out)
				return nil
			}
			return os.WriteFile(readOut, out, 0o644)
		},
	}
	readCmd.Flags().StringVar(&readPath, "path", "", "path within the image")
	readCmd.MarkFlagRequired("path")
	readCmd.Flags().StringVarP(&readOut, "output", "o", "", "output file (defaults to stdout)")

	fsCmd.AddCommand(listCmd, readCmd)
	return fsCmd
}

// newNVSCmd builds the nvs subcommand tree for inspecting and editing an
// NVS partition image in place.
func newNVSCmd() *cobra.Command {
	var imagePath string

	nvsCmd := &cobra.Command{
		Use:   "nvs",
		Short: "Inspect or edit an NVS key/value partition image",
	}
	nvsCmd.PersistentFlags().StringVar(&imagePath, "image", "", "path to the NVS partition image")
	nvsCmd.MarkPersistentFlagRequired("image")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every namespace name (keys are not listed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return err
			}
			store, err := nvs.Parse(data)
			if err != nil {
				return err
			}
			for _, ns := range store.Namespaces() {
				fmt.Println(ns)
			}
			return nil
		},
	}

	var getNS, getKey string
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print one entry's value",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return err
			}
			store, err := nvs.Parse(data)
			if err != nil {
				return err
			}
			entry, err := store.Get(getNS, getKey)
			if err != nil {
				return err
			}
			switch entry.DataType {
			case nvs.TypeString:
				fmt.Println(entry.Str)
			case nvs.TypeBlob:
				fmt.Printf("%x\n", entry.Blob)
			case nvs.TypeI8, nvs.TypeI16, nvs.TypeI32, nvs.TypeI64:
				fmt.Println(entry.Int)
			default:
				fmt.Println(entry.Uint)
			}
			return nil
		},
	}
	getCmd.Flags().StringVar(&getNS, "namespace", "", "namespace")
	getCmd.Flags().StringVar(&getKey, "key", "", "key")
	getCmd.MarkFlagRequired("namespace")
	getCmd.MarkFlagRequired("key")

	var setNS, setKey, setValue string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Edit one entry's value in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return err
			}
			store, err := nvs.Parse(data)
			if err != nil {
				return err
			}
			entry, err := store.Get(setNS, setKey)
			if err != nil {
				return err
			}
			if entry.DataType == nvs.TypeString || entry.DataType == nvs.TypeBlob {
				if err := store.SetBlobOrString(setNS, setKey, []byte(setValue), entry.DataType == nvs.TypeString); err != nil {
					return err
				}
			} else {
				var v uint64
				if _, err := fmt.Sscanf(setValue, "%d", &v); err != nil {
					return fmt.Errorf("parse value %q as integer: %w", setValue, err)
				}
				if err := store.SetPrimitive(setNS, setKey, v); err != nil {
					return err
				}
			}
			return os.WriteFile(imagePath, data, 0o644)
		},
	}
	setCmd.Flags().StringVar(&setNS, "namespace", "", "namespace")
	setCmd.Flags().StringVar(&setKey, "key", "", "key")
	setCmd.Flags().StringVar(&setValue, "value", "", "new value")
	setCmd.MarkFlagRequired("namespace")
	setCmd.MarkFlagRequired("key")
	setCmd.MarkFlagRequired("value")

	var delNS, delKey string
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return err
			}
			store, err := nvs.Parse(data)
			if err != nil {
				return err
			}
			if err := store.Delete(delNS, delKey); err != nil {
				return err
			}
			return os.WriteFile(imagePath, data, 0o644)
		},
	}
	deleteCmd.Flags().StringVar(&delNS, "namespace", "", "namespace")
	deleteCmd.Flags().StringVar(&delKey, "key", "", "key")
	deleteCmd.MarkFlagRequired("namespace")
	deleteCmd.MarkFlagRequired("key")

	nvsCmd.AddCommand(listCmd, getCmd, setCmd, deleteCmd)
	return nvsCmd
}

// familyByName resolves a chip family flag against the registry by its
// Descriptor.Name, case-insensitively; used only for the --family
// informational flag's validation, since detection is always automatic.
func familyByName(name string) (chip.Descriptor, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range chip.All() {
		if strings.ToLower(d.Name) == name {
			return d, true
		}
	}
	return chip.Descriptor{}, false
}

// checkFamilyFlag warns, but does not fail, when --family disagrees with
// the chip actually detected on the wire.
func checkFamilyFlag(d chip.Descriptor) {
	if familyFlag == "" {
		return
	}
	want, ok := familyByName(familyFlag)
	if !ok {
		log.Warnf("--family %q is not a known chip family", familyFlag)
		return
	}
	if want.Family != d.Family {
		log.Warnf("--family %q given but detected %s", familyFlag, d.Name)
	}
}

// newPartTabCmd builds the parttab subcommand tree for listing and
// searching a partition-table image file, spec §6's 4 KiB table at flash
// offset 0x8000 on ESP32-family chips.
func newPartTabCmd() *cobra.Command {
	var imagePath string

	partCmd := &cobra.Command{
		Use:   "parttab",
		Short: "Inspect a partition table image",
	}
	partCmd.PersistentFlags().StringVar(&imagePath, "image", "", "path to a 4 KiB partition table image")
	partCmd.MarkPersistentFlagRequired("image")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every partition entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return err
			}
			entries, err := parttab.Parse(data)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%-16s type=0x%02X subtype=%-10s offset=0x%06X size=0x%06X\n",
					e.Label, e.Type, e.SubtypeName(), e.Offset, e.Size)
			}
			return nil
		},
	}

	var findType, findSubtype uint8
	findCmd := &cobra.Command{
		Use:   "find",
		Short: "Find the first entry matching a type/subtype pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return err
			}
			entries, err := parttab.Parse(data)
			if err != nil {
				return err
			}
			e, ok := parttab.Find(entries, findType, findSubtype)
			if !ok {
				return fmt.Errorf("no partition with type=0x%02X subtype=0x%02X", findType, findSubtype)
			}
			fmt.Printf("%s offset=0x%06X size=0x%06X\n", e.Label, e.Offset, e.Size)
			return nil
		},
	}
	findCmd.Flags().Uint8Var(&findType, "type", parttab.TypeData, "partition type byte")
	findCmd.Flags().Uint8Var(&findSubtype, "subtype", parttab.SubtypeNVS, "partition subtype byte")

	partCmd.AddCommand(listCmd, findCmd)
	return partCmd
}
