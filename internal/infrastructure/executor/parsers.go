package executor

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

type parser func(stdout string) (map[string]string, error)

var parsers = map[string]parser{
	"meminfo":  parseMeminfo,
	"lscpu":    parseLscpu,
	"df":       parseDF,
	"loadavg":  parseLoadavg,
	"uptime":   parseUptime,
	"keyvalue": parseKeyValue,
	"lines":    parseLines,
}

var meminfoKeys = map[string]string{
	"MemTotal":     "mem_total",
	"MemFree":      "mem_free",
	"MemAvailable": "mem_available",
	"Buffers":      "buffers",
	"Cached":       "cached",
	"SwapTotal":    "swap_total",
	"SwapFree":     "swap_free",
}

func parseMeminfo(stdout string) (map[string]string, error) {
	fields := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		key, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		name, known := meminfoKeys[strings.TrimSpace(key)]
		if !known {
			continue
		}
		parts := strings.Fields(rest)
		if len(parts) == 0 {
			continue
		}
		value, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}
		if len(parts) > 1 && strings.EqualFold(parts[1], "kB") {
			value *= 1024
		}
		fields[name+"_bytes"] = strconv.FormatUint(value, 10)
	}
	if _, ok := fields["mem_total_bytes"]; !ok {
		return nil, fmt.Errorf("MemTotal not found")
	}
	return fields, nil
}

var lscpuKeys = map[string]string{
	"CPU(s)":             "cpus",
	"Model name":         "model_name",
	"Thread(s) per core": "threads_per_core",
	"Core(s) per socket": "cores_per_socket",
	"Socket(s)":          "sockets",
	"Architecture":       "architecture",
	"CPU max MHz":        "max_mhz",
}

func parseLscpu(stdout string) (map[string]string, error) {
	fields := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		if name, known := lscpuKeys[strings.TrimSpace(key)]; known {
			fields[name] = strings.TrimSpace(value)
		}
	}
	if _, err := strconv.Atoi(fields["cpus"]); err != nil {
		return nil, fmt.Errorf("CPU(s) not found")
	}
	return fields, nil
}

// parseDF reads POSIX df output. The block size comes from the header so both
// "1024-blocks" and "-B1" output work.
func parseDF(stdout string) (map[string]string, error) {
	lines := nonEmptyLines(stdout)
	if len(lines) < 2 {
		return nil, fmt.Errorf("expected header and one row, got %d lines", len(lines))
	}
	header := strings.Fields(lines[0])
	row := strings.Fields(lines[1])
	if len(header) < 2 || len(row) < 6 {
		return nil, fmt.Errorf("unexpected df layout")
	}
	unit, err := blockUnit(header[1])
	if err != nil {
		return nil, err
	}
	var blocks [3]uint64
	for i := range blocks {
		v, err := strconv.ParseUint(row[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		blocks[i] = v * unit
	}
	used, err := strconv.Atoi(strings.TrimSuffix(row[4], "%"))
	if err != nil {
		return nil, fmt.Errorf("capacity %q: %w", row[4], err)
	}
	return map[string]string{
		"filesystem":   row[0],
		"size_bytes":   strconv.FormatUint(blocks[0], 10),
		"used_bytes":   strconv.FormatUint(blocks[1], 10),
		"avail_bytes":  strconv.FormatUint(blocks[2], 10),
		"used_percent": strconv.Itoa(used),
		"percent":      strconv.Itoa(100 - used),
		"mount":        strings.Join(row[5:], " "),
	}, nil
}

func blockUnit(column string) (uint64, error) {
	spec := strings.TrimSuffix(column, "-blocks")
	digits := strings.TrimRightFunc(spec, unicode.IsLetter)
	suffix := strings.ToUpper(spec[len(digits):])
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown block size %q", column)
	}
	switch suffix {
	case "", "B":
		return n, nil
	case "K":
		return n << 10, nil
	case "M":
		return n << 20, nil
	case "G":
		return n << 30, nil
	default:
		return 0, fmt.Errorf("unknown block size %q", column)
	}
}

func parseLoadavg(stdout string) (map[string]string, error) {
	parts := strings.Fields(stdout)
	if len(parts) < 3 {
		return nil, fmt.Errorf("expected three load averages")
	}
	fields := map[string]string{}
	for i, key := range []string{"load1", "load5", "load15"} {
		if _, err := strconv.ParseFloat(parts[i], 64); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		fields[key] = parts[i]
	}
	if len(parts) > 3 {
		if running, total, ok := strings.Cut(parts[3], "/"); ok {
			fields["running"] = running
			fields["processes"] = total
		}
	}
	return fields, nil
}

func parseUptime(stdout string) (map[string]string, error) {
	parts := strings.Fields(stdout)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty uptime")
	}
	seconds, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, err
	}
	d := time.Duration(seconds) * time.Second
	return map[string]string{
		"uptime_seconds": strconv.FormatInt(int64(seconds), 10),
		"uptime":         d.String(),
	}, nil
}

// parseKeyValue reads KEY=value lines such as os-release or systemctl show.
func parseKeyValue(stdout string) (map[string]string, error) {
	fields := map[string]string{}
	for _, line := range nonEmptyLines(stdout) {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[snakeCase(strings.TrimSpace(key))] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no key=value pairs")
	}
	return fields, nil
}

func parseLines(stdout string) (map[string]string, error) {
	lines := nonEmptyLines(stdout)
	fields := map[string]string{"line_count": strconv.Itoa(len(lines))}
	if len(lines) > 0 {
		fields["first_line"] = strings.TrimSpace(lines[0])
	}
	return fields, nil
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// snakeCase turns ActiveState into active_state and PRETTY_NAME into pretty_name.
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
