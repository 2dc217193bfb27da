package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/errs"
)

const ipmiSensorsSection = "mgmt_ipmi_sensors"

type Sensor struct {
	Name   string
	Value  string
	Unit   string
	Status string
}

// SensorReader reads the sensors of a management board.
type SensorReader interface {
	ReadSensors(ctx context.Context, address string, credentials map[string]string) ([]*Sensor, error)
}

// IPMI renders the sensor readings of a management board as agent output.
type IPMI struct {
	Address     string
	Credentials map[string]string
	Reader      SensorReader
}

func (i *IPMI) Open(ctx context.Context) error {
	if i.Reader == nil {
		return errs.Transport(nil, "no IPMI backend configured")
	}
	return nil
}

func (i *IPMI) Fetch(ctx context.Context) ([]byte, error) {
	sensors, err := i.Reader.ReadSensors(ctx, i.Address, i.Credentials)
	if err != nil {
		if errs.KindOf(err) != errs.KindException || errs.IsTerminate(err) {
			return nil, err
		}
		return nil, classify(ctx, err, "reading sensors of %s", i.Address)
	}

	buf := &bytes.Buffer{}
	buf.WriteString("<<<" + ipmiSensorsSection + ":sep(124)>>>\n")
	for _, s := range sensors {
		buf.WriteString(strings.Join([]string{s.Name, s.Value, s.Unit, s.Status}, "|"))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (i *IPMI) Close() error { return nil }

// CommandSensorReader runs an external backend that prints one sensor per line
// as name|value|unit|status. The command supports the $HOSTADDRESS$ macro and
// receives the credentials as IPMI_<KEY> environment variables.
type CommandSensorReader struct {
	Command string
	Logger  *zap.SugaredLogger
}

func (c *CommandSensorReader) ReadSensors(ctx context.Context, address string, credentials map[string]string) ([]*Sensor, error) {
	command := ExpandMacros(c.Command, MacroContext{Address: address, Hostname: address})
	out, err := runCommandEnv(ctx, command, credentialEnv("IPMI_", credentials), c.Logger)
	if err != nil {
		return nil, err
	}

	sensors := []*Sensor{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "|")
		for len(fields) < 4 {
			fields = append(fields, "")
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		sensors = append(sensors, &Sensor{Name: fields[0], Value: fields[1], Unit: fields[2], Status: fields[3]})
	}
	return sensors, scanner.Err()
}
