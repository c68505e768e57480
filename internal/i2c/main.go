package i2c

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
	"github.com/voicebox-boards/epd-board-controller/i2crequest"
	"github.com/voicebox-boards/epd-board-controller/internal/config"
)

var version = "<not set>"
var log = logrus.New()

type Args struct {
	Write    *Write      `arg:"subcommand:write"   help:"Write to a register."`
	Read     *Read       `arg:"subcommand:read"    help:"Read from a register."`
	Service  *subcommand `arg:"subcommand:service" help:"Start the dbus service."`
	Find     *Find       `arg:"subcommand:find"    help:"Find i2c devices."`
	Config   string      `arg:"-c,--config" help:"board configuration file"`
	LogLevel string      `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

type subcommand struct {
}

type Find struct {
	Address string `arg:"required" help:"The address of the device you want to find, in hex (0xnn)"`
}

type Write struct {
	Address string `arg:"required" help:"The address you want to write to, in hex (0xnn)"`
	Reg     string `arg:"required" help:"The Register you want to write to, in hex (0xnn)"`
	Val     string `arg:"required" help:"The value you want to write, in hex (0xnn)"`
}

type Read struct {
	Address string `arg:"required" help:"The address you want to read from, in hex (0xnn)"`
	Reg     string `arg:"required" help:"The Register you want to read from, in hex (0xnn)"`
	Len     int    `arg:"--len" default:"1" help:"Number of bytes to read"`
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	Config: config.DefaultPath,
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	level, err := logrus.ParseLevel(args.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	log.Infof("Running version: %s", version)

	if args.Write != nil {
		return write(args.Write)
	}
	if args.Read != nil {
		return read(args.Read)
	}
	if args.Find != nil {
		return find(args.Find)
	}

	if args.Service != nil {
		conf, err := config.Load(args.Config)
		if err != nil {
			return err
		}
		if err := startService(conf.I2C); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		log.Info("Stopped")
		return nil
	}
	return errors.New("no subcommand given")
}

func find(find *Find) error {
	address, err := hexStringToByte(find.Address)
	if err != nil {
		return err
	}

	log.Printf("Finding address 0x%X", address)
	if err := i2crequest.CheckAddress(address, 1000); err != nil {
		log.Printf("Did not find device at address 0x%X: %v", address, err)
		return nil
	}
	log.Printf("Found device at address 0x%X", address)
	return nil
}

func read(read *Read) error {
	reg, err := hexStringToByte(read.Reg)
	if err != nil {
		return err
	}
	address, err := hexStringToByte(read.Address)
	if err != nil {
		return err
	}
	if read.Len < 1 {
		return fmt.Errorf("invalid read length %d", read.Len)
	}

	log.Printf("Reading %d bytes from register 0x%X", read.Len, reg)
	response, err := i2crequest.Tx(address, []byte{reg}, read.Len, 1000)
	if err != nil {
		return err
	}
	log.Printf("% X", response)
	return nil
}

func write(args *Write) error {
	reg, err := hexStringToByte(args.Reg)
	if err != nil {
		return err
	}
	val, err := hexStringToByte(args.Val)
	if err != nil {
		return err
	}
	address, err := hexStringToByte(args.Address)
	if err != nil {
		return err
	}

	log.Printf("Writing 0x%X to register 0x%X", val, reg)
	_, err = i2crequest.Tx(address, []byte{reg, val}, 0, 1000)
	return err
}

func hexStringToByte(hexStr string) (byte, error) {
	if len(hexStr) != 4 {
		return 0, fmt.Errorf("invalid hex string length: %d", len(hexStr))
	}
	if !strings.HasPrefix(hexStr, "0x") {
		return 0, fmt.Errorf("invalid hex string prefix, should be '0x': %s", hexStr)
	}
	val, err := strconv.ParseUint(hexStr[2:], 16, 8)
	if err != nil {
		return 0, err
	}
	return byte(val), nil
}
