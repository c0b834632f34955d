package executor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const meminfoSample = `MemTotal:       16318480 kB
MemFree:         1203340 kB
MemAvailable:    8159240 kB
Buffers:          402312 kB
Cached:          6421116 kB
SwapCached:            0 kB
SwapTotal:       2097148 kB
SwapFree:        2097148 kB
HugePages_Total:       0
`

const lscpuSample = `Architecture:                    x86_64
CPU op-mode(s):                  32-bit, 64-bit
CPU(s):                          12
On-line CPU(s) list:             0-11
Model name:                      AMD Ryzen 5 5600X 6-Core Processor
Thread(s) per core:              2
Core(s) per socket:              6
Socket(s):                       1
NUMA node0 CPU(s):               0-11
`

func TestParsers(t *testing.T) {
	tests := []struct {
		name   string
		parser string
		input  string
		want   map[string]string
	}{
		{
			name:   "meminfo converts kB to bytes",
			parser: "meminfo",
			input:  meminfoSample,
			want: map[string]string{
				"mem_total_bytes":     "16710123520",
				"mem_free_bytes":      "1232220160",
				"mem_available_bytes": "8355061760",
				"buffers_bytes":       "411967488",
				"cached_bytes":        "6575222784",
				"swap_total_bytes":    "2147479552",
				"swap_free_bytes":     "2147479552",
			},
		},
		{
			name:   "lscpu keeps exact keys only",
			parser: "lscpu",
			input:  lscpuSample,
			want: map[string]string{
				"architecture":     "x86_64",
				"cpus":             "12",
				"model_name":       "AMD Ryzen 5 5600X 6-Core Processor",
				"threads_per_core": "2",
				"cores_per_socket": "6",
				"sockets":          "1",
			},
		},
		{
			name:   "df with byte blocks",
			parser: "df",
			input: "Filesystem        1-blocks        Used   Available Capacity Mounted on\n" +
				"/dev/nvme0n1p2 500000000000 200000000000 300000000000      40% /\n",
			want: map[string]string{
				"filesystem":   "/dev/nvme0n1p2",
				"size_bytes":   "500000000000",
				"used_bytes":   "200000000000",
				"avail_bytes":  "300000000000",
				"used_percent": "40",
				"percent":      "60",
				"mount":        "/",
			},
		},
		{
			name:   "df with kilobyte blocks",
			parser: "df",
			input: "Filesystem     1024-blocks     Used Available Capacity Mounted on\n" +
				"/dev/sda1          1000        250       750      25% /mnt/data disk\n",
			want: map[string]string{
				"filesystem":   "/dev/sda1",
				"size_bytes":   "1024000",
				"used_bytes":   "256000",
				"avail_bytes":  "768000",
				"used_percent": "25",
				"percent":      "75",
				"mount":        "/mnt/data disk",
			},
		},
		{
			name:   "loadavg",
			parser: "loadavg",
			input:  "0.42 0.35 0.30 2/1187 48213\n",
			want: map[string]string{
				"load1": "0.42", "load5": "0.35", "load15": "0.30",
				"running": "2", "processes": "1187",
			},
		},
		{
			name:   "uptime",
			parser: "uptime",
			input:  "93784.51 1100231.12\n",
			want:   map[string]string{"uptime_seconds": "93784", "uptime": "26h3m4s"},
		},
		{
			name:   "keyvalue from systemctl show",
			parser: "keyvalue",
			input:  "Id=nginx.service\nActiveState=failed\nSubState=failed\nNRestarts=3\n",
			want: map[string]string{
				"id": "nginx.service", "active_state": "failed", "sub_state": "failed", "n_restarts": "3",
			},
		},
		{
			name:   "keyvalue from os-release",
			parser: "keyvalue",
			input:  "# comment\nPRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\nVERSION_ID=\"12\"\n",
			want:   map[string]string{"pretty_name": "Debian GNU/Linux 12 (bookworm)", "version_id": "12"},
		},
		{
			name:   "lines",
			parser: "lines",
			input:  "\nlo UNKNOWN 127.0.0.1/8\neth0 UP 10.0.0.5/24\n",
			want:   map[string]string{"line_count": "2", "first_line": "lo UNKNOWN 127.0.0.1/8"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsers[tt.parser](tt.input)
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParsersRejectGarbage(t *testing.T) {
	tests := []struct {
		parser string
		input  string
	}{
		{"meminfo", "not meminfo at all"},
		{"lscpu", "Architecture: x86_64\n"},
		{"df", "Filesystem 1K-blocks\n"},
		{"df", "Filesystem weird-blocks Used Available Capacity Mounted\n/dev/x 1 1 1 1% /\n"},
		{"loadavg", "high"},
		{"uptime", ""},
		{"keyvalue", "no pairs here"},
	}
	for _, tt := range tests {
		if _, err := parsers[tt.parser](tt.input); err == nil {
			t.Fatalf("%s accepted %q", tt.parser, tt.input)
		}
	}
}
