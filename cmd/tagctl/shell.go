package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dotside-studios/davi-nfc-tagd/ndef"
	"github.com/dotside-studios/davi-nfc-tagd/nfc"
	"github.com/dotside-studios/davi-nfc-tagd/tag"
)

var errUsage = errors.New("usage")

// Shell runs tagctl commands against the tags in a table. One session is
// selected at a time.
type Shell struct {
	table *tag.Table
	out   io.Writer

	facade tag.Facade
}

func NewShell(table *tag.Table, out io.Writer) *Shell {
	return &Shell{table: table, out: out}
}

type command struct {
	usage string
	help  string
	run   func(s *Shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"tags":      {"tags", "List tags in the field", (*Shell).cmdTags},
		"use":       {"use <n> <tech>", "Select the session for a technology of tag n", (*Shell).cmdUse},
		"connect":   {"connect", "Connect the selected session", (*Shell).cmdConnect},
		"reconnect": {"reconnect", "Reconnect the selected session", (*Shell).cmdReconnect},
		"close":     {"close", "Close the selected session", (*Shell).cmdClose},
		"present":   {"present", "Check whether the tag is still in the field", (*Shell).cmdPresent},
		"send":      {"send <hex> [raw]", "Send a command frame", (*Shell).cmdSend},
		"timeout":   {"timeout [ms|reset]", "Show, set or reset the command timeout", (*Shell).cmdTimeout},
		"maxlen":    {"maxlen", "Show the largest command the technology accepts", (*Shell).cmdMaxLen},
		"ndef":      {"ndef read|write text|uri <value>|lock", "NDEF operations", (*Shell).cmdNdef},
		"format":    {"format [text <value>] [lock]", "Format an NDEF formatable tag", (*Shell).cmdFormat},
		"auth":      {"auth <sector> a|b <key hex>", "Authenticate a Mifare Classic sector", (*Shell).cmdAuth},
		"read":      {"read <index> [flag]", "Read a block or page", (*Shell).cmdRead},
		"write":     {"write <index> <hex> [flag]", "Write a block or page", (*Shell).cmdWrite},
		"value":     {"value inc|dec|transfer|restore <block> [n]", "Mifare Classic value block operations", (*Shell).cmdValue},
		"select":    {"select <aid hex>", "Select an ISO-DEP application", (*Shell).cmdSelect},
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	names := []string{"tags", "use", "connect", "reconnect", "close", "present", "send", "timeout", "maxlen",
		"ndef", "format", "auth", "read", "write", "value", "select"}
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(s.out, "  %-44s %s\n", c.usage, c.help)
	}
	fmt.Fprintf(s.out, "  %-44s %s\n", "help", "Show this help")
	fmt.Fprintf(s.out, "  %-44s %s\n", "exit", "Quit")
}

// Exec runs one command line. It returns true when the shell should quit.
func (s *Shell) Exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := fields[0], fields[1:]
	switch name {
	case "exit", "quit":
		return true
	case "help", "?":
		s.printHelp()
		return false
	}
	c, ok := commands[name]
	if !ok {
		fmt.Fprintf(s.out, "Unknown command %q, try help\n", name)
		return false
	}
	if err := c.run(s, args); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(s.out, "Usage: %s\n", c.usage)
		} else {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
	return false
}

func (s *Shell) selected() (tag.Facade, error) {
	if s.facade == nil {
		return nil, errors.New("no session selected, see use")
	}
	return s.facade, nil
}

func (s *Shell) cmdTags(args []string) error {
	refs := s.table.Refs()
	if len(refs) == 0 {
		fmt.Fprintln(s.out, "No tags")
		return nil
	}
	for i, ref := range refs {
		h, ok := s.table.Lookup(ref)
		if !ok {
			continue
		}
		fmt.Fprintf(s.out, "%d: %s %v\n", i+1, h.UID(), h.Technologies)
	}
	return nil
}

func (s *Shell) cmdUse(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	refs := s.table.Refs()
	if n < 1 || n > len(refs) {
		return fmt.Errorf("no tag %d", n)
	}
	tech, err := nfc.ParseTechnology(args[1])
	if err != nil {
		return err
	}
	f, err := tag.Get(s.table, refs[n-1], tech)
	if err != nil {
		return err
	}
	s.facade = f
	fmt.Fprintf(s.out, "Using %s on %X\n", tech, f.TagID())
	s.describe(f)
	return nil
}

// describe prints what the session learned at discovery.
func (s *Shell) describe(f tag.Facade) {
	switch t := f.(type) {
	case *tag.MifareClassicTag:
		fmt.Fprintf(s.out, "  %s, %d bytes, %d sectors, emulated %t\n", t.MifareTagType(), t.Size(), t.SectorCount(), t.IsEmulated())
	case *tag.MifareUltralightTag:
		fmt.Fprintf(s.out, "  %s\n", t.Type())
	case *tag.Iso15693Tag:
		fmt.Fprintf(s.out, "  DSFID %02X, response flags %02X\n", t.DsfId(), t.RespFlags())
	case *tag.IsoDepTag:
		fmt.Fprintf(s.out, "  historical bytes % X, hi-layer response % X\n", t.HistoricalBytes(), t.HiLayerResponse())
	case *tag.NdefTag:
		fmt.Fprintf(s.out, "  %s, %s, max %d bytes\n", tag.NdefTypeString(t.NdefTagType()), t.NdefTagMode(), t.MaxTagSize())
		if msg := t.CachedNdefMsg(); msg != nil {
			s.printMessage(msg)
		}
	}
}

func (s *Shell) cmdConnect(args []string) error {
	f, err := s.selected()
	if err != nil {
		return err
	}
	if err := f.Connect(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Connected")
	return nil
}

func (s *Shell) cmdReconnect(args []string) error {
	f, err := s.selected()
	if err != nil {
		return err
	}
	return f.Reconnect()
}

func (s *Shell) cmdClose(args []string) error {
	f, err := s.selected()
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *Shell) cmdPresent(args []string) error {
	f, err := s.selected()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Present: %t\n", f.Session().IsPresent())
	return nil
}

func (s *Shell) cmdSend(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	f, err := s.selected()
	if err != nil {
		return err
	}
	data, err := parseHex(args[0])
	if err != nil {
		return err
	}
	raw := len(args) == 2 && args[1] == "raw"
	resp, err := f.Session().SendCommand(data, raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "< % X\n", resp)
	return nil
}

func (s *Shell) cmdTimeout(args []string) error {
	f, err := s.selected()
	if err != nil {
		return err
	}
	sess := f.Session()
	switch {
	case len(args) == 0:
		ms, err := sess.Timeout()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Timeout: %d ms\n", ms)
		return nil
	case len(args) == 1 && args[0] == "reset":
		return sess.ResetTimeouts()
	case len(args) == 1:
		ms, err := strconv.Atoi(args[0])
		if err != nil {
			return errUsage
		}
		return sess.SetTimeout(ms)
	}
	return errUsage
}

func (s *Shell) cmdMaxLen(args []string) error {
	f, err := s.selected()
	if err != nil {
		return err
	}
	sess := f.Session()
	fmt.Fprintf(s.out, "Max command length: %d (extended APDUs %t)\n", sess.MaxSendCommandLength(), sess.IsExtendedApduSupported())
	return nil
}

func (s *Shell) printMessage(msg *ndef.Message) {
	for i, r := range msg.Records() {
		switch {
		case r.IsText():
			text, _ := r.Text()
			fmt.Fprintf(s.out, "  [%d] text (%s): %s\n", i, r.Language(), text)
		case r.IsURI():
			uri, _ := r.URI()
			fmt.Fprintf(s.out, "  [%d] uri: %s\n", i, uri)
		default:
			fmt.Fprintf(s.out, "  [%d] tnf %d type %q: % X\n", i, r.TNF, r.Type, r.Payload)
		}
	}
}

// parseMessage builds a one-record message from "text <value>" or
// "uri <value>".
func parseMessage(args []string) (*ndef.Message, error) {
	if len(args) < 2 {
		return nil, errUsage
	}
	value := strings.Join(args[1:], " ")
	switch args[0] {
	case "text":
		return ndef.NewMessage().AddText(value, "en"), nil
	case "uri":
		return ndef.NewMessage().AddURI(value), nil
	}
	return nil, errUsage
}

func (s *Shell) cmdNdef(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	f, err := s.selected()
	if err != nil {
		return err
	}
	t, ok := f.(*tag.NdefTag)
	if !ok {
		return fmt.Errorf("selected session is %s, use ndef", f.Technology())
	}
	switch args[0] {
	case "read":
		msg, err := t.ReadNdef()
		if err != nil {
			return err
		}
		if msg == nil {
			fmt.Fprintln(s.out, "Empty")
			return nil
		}
		s.printMessage(msg)
		return nil
	case "write":
		msg, err := parseMessage(args[1:])
		if err != nil {
			return err
		}
		return t.WriteNdef(msg)
	case "lock":
		if !t.IsEnableReadOnly() {
			return errors.New("the reader cannot lock this tag type")
		}
		return t.EnableReadOnly()
	}
	return errUsage
}

func (s *Shell) cmdFormat(args []string) error {
	f, err := s.selected()
	if err != nil {
		return err
	}
	t, ok := f.(*tag.NdefFormatableTag)
	if !ok {
		return fmt.Errorf("selected session is %s, use ndefformatable", f.Technology())
	}
	lock := len(args) > 0 && args[len(args)-1] == "lock"
	if lock {
		args = args[:len(args)-1]
	}
	var msg *ndef.Message
	if len(args) > 0 {
		if msg, err = parseMessage(args); err != nil {
			return err
		}
	}
	if lock {
		return t.FormatReadOnly(msg)
	}
	return t.Format(msg)
}

func (s *Shell) cmdAuth(args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	t, err := s.classic()
	if err != nil {
		return err
	}
	sector, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	key, err := parseHex(args[2])
	if err != nil {
		return err
	}
	switch strings.ToLower(args[1]) {
	case "a":
		return t.AuthenticateSector(sector, key, true)
	case "b":
		return t.AuthenticateSector(sector, key, false)
	}
	return errUsage
}

func (s *Shell) classic() (*tag.MifareClassicTag, error) {
	f, err := s.selected()
	if err != nil {
		return nil, err
	}
	t, ok := f.(*tag.MifareClassicTag)
	if !ok {
		return nil, fmt.Errorf("selected session is %s, use mifareclassic", f.Technology())
	}
	return t, nil
}

func (s *Shell) cmdRead(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	f, err := s.selected()
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	var data []byte
	switch t := f.(type) {
	case *tag.MifareClassicTag:
		data, err = t.ReadSingleBlock(index)
	case *tag.MifareUltralightTag:
		data, err = t.ReadMultiplePages(index)
	case *tag.Iso15693Tag:
		flag, ferr := optionalInt(args, 1)
		if ferr != nil {
			return ferr
		}
		data, err = t.ReadSingleBlock(flag, index)
	default:
		return fmt.Errorf("%s has no blocks", f.Technology())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "% X\n", data)
	return nil
}

func (s *Shell) cmdWrite(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	f, err := s.selected()
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	data, err := parseHex(args[1])
	if err != nil {
		return err
	}
	switch t := f.(type) {
	case *tag.MifareClassicTag:
		return t.WriteSingleBlock(index, data)
	case *tag.MifareUltralightTag:
		return t.WriteSinglePage(index, data)
	case *tag.Iso15693Tag:
		flag, err := optionalInt(args, 2)
		if err != nil {
			return err
		}
		return t.WriteSingleBlock(flag, index, data)
	}
	return fmt.Errorf("%s has no blocks", f.Technology())
}

func (s *Shell) cmdValue(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	t, err := s.classic()
	if err != nil {
		return err
	}
	block, err := strconv.Atoi(args[1])
	if err != nil {
		return errUsage
	}
	switch args[0] {
	case "inc", "dec":
		n, err := optionalInt(args, 2)
		if err != nil || len(args) != 3 {
			return errUsage
		}
		if args[0] == "inc" {
			return t.IncrementBlock(block, n)
		}
		return t.DecrementBlock(block, n)
	case "transfer":
		return t.TransferToBlock(block)
	case "restore":
		return t.RestoreFromBlock(block)
	}
	return errUsage
}

func (s *Shell) cmdSelect(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	f, err := s.selected()
	if err != nil {
		return err
	}
	t, ok := f.(*tag.IsoDepTag)
	if !ok {
		return fmt.Errorf("selected session is %s, use isodep", f.Technology())
	}
	aid, err := parseHex(args[0])
	if err != nil {
		return err
	}
	res, err := t.SelectApplication(aid)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "SW %04X selected %t\n", res.StatusWord, res.Selected())
	for _, tlv := range res.FCI {
		fmt.Fprintf(s.out, "  %s: % X\n", tlv.Tag, tlv.Value)
	}
	return nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.ReplaceAll(s, ":", ""), " ", "")
	data, err := nfc.HexToBytes(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return data, nil
}

// optionalInt parses args[i], defaulting to 0 when it is absent.
func optionalInt(args []string, i int) (int, error) {
	if len(args) <= i {
		return 0, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, errUsage
	}
	return n, nil
}
