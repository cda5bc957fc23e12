// Command rvtrace is the CLI front end for the encoder/decoder (spec §6):
// an "encode" subcommand turning a stimulus file into a packet stream,
// and a "decode" subcommand replaying a packet stream against a raw
// binary image back into an instruction trail. Grounded on the teacher's
// cmd/trc_pkt_lister flag-driven scaffold for the overall shape, but
// built on github.com/urfave/cli/v2 the way chriskillpack-bbcdisasm's
// cmd/bbcdisasm front end is, per the mandate to wire in every usable
// third-party dependency the example pack demonstrates.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"rvtrace"
	"rvtrace/classify"
	"rvtrace/decoder"
	"rvtrace/encoder"
	"rvtrace/errs"
	"rvtrace/logging"
	"rvtrace/memacc"
	"rvtrace/packet"
	"rvtrace/stimulus"
)

func main() {
	app := &cli.App{
		Name:  "rvtrace",
		Usage: "RISC-V instruction-trace encoder/decoder",
		Commands: []*cli.Command{
			encodeCmd(),
			decodeCmd(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rvtrace:", err)
		os.Exit(1)
	}
}

func buildConfig(c *cli.Context) rvtrace.Config {
	return rvtrace.Config{
		Arch64:                c.Bool("arch64"),
		FullAddress:           c.Bool("full-address"),
		UsePulpSext:           c.Bool("pulp-sext"),
		ImplicitRet:           c.Bool("implicit-ret"),
		PulpVectorTablePacket: c.Bool("pulp-vector-table"),
		CompressFullBranchMap: c.Bool("compress-full-map"),
		ResyncMax:             uint32(c.Uint("resync-max")),
	}
}

var configFlags = []cli.Flag{
	&cli.BoolFlag{Name: "arch64", Usage: "select 64-bit address width"},
	&cli.BoolFlag{Name: "full-address", Usage: "always emit absolute addresses"},
	&cli.BoolFlag{Name: "pulp-sext", Usage: "quantize address compression to byte boundaries"},
	&cli.BoolFlag{Name: "implicit-ret", Usage: "treat ret/c.ret as predictable via the RAS"},
	&cli.BoolFlag{Name: "pulp-vector-table", Usage: "bridge exception vector-table jumps with an extra SYNC/START"},
	&cli.BoolFlag{Name: "compress-full-map", Usage: "drop sign-extendable high bits from full branch-map packets"},
	&cli.UintFlag{Name: "resync-max", Usage: "force a resync packet at least every N instructions (reserved)"},
}

func encodeCmd() *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "encode a stimulus file into a packet stream",
		ArgsUsage: "stimulus-file packet-file",
		Flags: append(configFlags, &cli.BoolFlag{Name: "csv", Usage: "parse the stimulus file as CSV"}),
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 2 {
				return cli.Exit("usage: rvtrace encode [flags] stimulus-file packet-file", 1)
			}
			return runEncode(c, c.Args().Get(0), c.Args().Get(1))
		},
	}
}

func runEncode(c *cli.Context, stimPath, outPath string) error {
	f, err := os.Open(stimPath)
	if err != nil {
		return errs.Newf(errs.FileOpen, "opening stimulus file: %v", err)
	}
	defer f.Close()

	var instrs []rvtrace.Instr
	if c.Bool("csv") {
		instrs, err = stimulus.ParseCSV(f)
	} else {
		instrs, err = stimulus.ParseText(f)
	}
	if err != nil {
		return err
	}

	cfg := buildConfig(c)
	stats := &rvtrace.Stats{}
	enc := encoder.New(cfg, classify.RV{}, logging.NoOpLogger{}, stats)

	out, err := os.Create(outPath)
	if err != nil {
		return errs.Newf(errs.FileOpen, "creating packet file: %v", err)
	}
	defer out.Close()

	// The CLI dumps one byte-aligned packet per write; packet.Marshal's
	// bit-alignment carry (for tighter bit-packed streams) is exercised by
	// the packet package's own tests rather than by this file format.
	for _, instr := range instrs {
		pkt, err := enc.Step(instr)
		if err != nil {
			return err
		}
		if pkt == nil {
			continue
		}
		buf, _, err := packet.Marshal(pkt, 0)
		if err != nil {
			return err
		}
		if _, err := out.Write(buf); err != nil {
			return errs.Newf(errs.FileWrite, "writing packet: %v", err)
		}
	}
	fmt.Fprintf(os.Stderr, "rvtrace: %d instructions, %d payload bits\n", stats.Instructions, stats.PayloadBits)
	return nil
}

func decodeCmd() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "decode a packet stream against a raw binary image",
		ArgsUsage: "packet-file image-file entry base",
		Flags:     configFlags,
		Action: func(c *cli.Context) error {
			if c.Args().Len() < 4 {
				return cli.Exit("usage: rvtrace decode [flags] packet-file image-file entry base", 1)
			}
			entry, err := strconv.ParseUint(c.Args().Get(2), 0, 64)
			if err != nil {
				return cli.Exit("bad entry address: "+err.Error(), 1)
			}
			base, err := strconv.ParseUint(c.Args().Get(3), 0, 64)
			if err != nil {
				return cli.Exit("bad base address: "+err.Error(), 1)
			}
			return runDecode(c, c.Args().Get(0), c.Args().Get(1), entry, base)
		},
	}
}

func runDecode(c *cli.Context, pktPath, imgPath string, entry, base uint64) error {
	pktBytes, err := os.ReadFile(pktPath)
	if err != nil {
		return errs.Newf(errs.FileOpen, "opening packet file: %v", err)
	}
	imgBytes, err := os.ReadFile(imgPath)
	if err != nil {
		return errs.Newf(errs.FileOpen, "opening image file: %v", err)
	}

	img := &memacc.Image{
		Entry:    entry,
		Sections: []*memacc.Section{{Name: "text", Base: base, Bytes: imgBytes}},
	}

	cfg := buildConfig(c)
	disa := classify.NewRVDisassembler(img, cfg.ImplicitRet)
	dec, err := decoder.New(cfg, disa, classify.RV{}, img, logging.NoOpLogger{})
	if err != nil {
		return err
	}

	for len(pktBytes) > 0 {
		p, consumed, err := packet.Unmarshal(pktBytes, 0, cfg.AddrBits())
		if err != nil {
			return err
		}
		instrs, err := dec.Step(p)
		if err != nil {
			return err
		}
		for _, ir := range instrs {
			fmt.Printf("valid=1 addr=%x instr=%x priv=%x compressed=%d\n", ir.IAddr, ir.Instr, ir.Priv, boolToInt(ir.Compressed))
		}
		pktBytes = pktBytes[consumed:]
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
