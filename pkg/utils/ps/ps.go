// Package ps reports host resource usage for the device status endpoint.
package ps

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

func CPUStatus() (CPU, error) {
	list, err := cpu.Percent(time.Millisecond*50, false)
	if err != nil {
		return CPU{}, err
	}

	return CPU{
		Percent: list[0],
	}, nil
}

func MemoryStatus() (Memory, error) {
	memory, err := mem.VirtualMemory()
	if err != nil {
		return Memory{}, err
	}
	swapMemory, err := mem.SwapMemory()
	if err != nil {
		return Memory{}, err
	}

	return Memory{
		Total:       memory.Total,
		Used:        memory.Used,
		UsedPercent: memory.UsedPercent,

		SwapTotal:       swapMemory.Total,
		SwapUsed:        swapMemory.Used,
		SwapUsedPercent: swapMemory.UsedPercent,
	}, nil
}

func DiskUsage(path string) (Disk, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return Disk{}, err
	}

	return Disk{
		Path:        path,
		Total:       usage.Total,
		Used:        usage.Used,
		Free:        usage.Free,
		UsedPercent: usage.UsedPercent,
		FreeHuman:   humanize.IBytes(usage.Free),
	}, nil
}

func DirDiskUsage(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return size, nil
}

// Status collects everything the device status endpoint shows. Exports is
// the size of the export directory.
func Status(storageDir, exportsDir string) (*DeviceStatus, error) {
	c, err := CPUStatus()
	if err != nil {
		return nil, err
	}
	m, err := MemoryStatus()
	if err != nil {
		return nil, err
	}
	d, err := DiskUsage(storageDir)
	if err != nil {
		return nil, err
	}
	size, err := DirDiskUsage(exportsDir)
	if err != nil {
		return nil, err
	}

	return &DeviceStatus{
		CPU:          c,
		Memory:       m,
		Disk:         d,
		ExportsBytes: size,
		Exports:      humanize.IBytes(uint64(size)),
	}, nil
}

type CPU struct {
	Percent float64 `json:"percent"`
}

type Memory struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`

	SwapTotal       uint64  `json:"swapTotal"`
	SwapUsed        uint64  `json:"swapUsed"`
	SwapUsedPercent float64 `json:"swapUsedPercent"`
}

type Disk struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
	FreeHuman   string  `json:"freeHuman"`
}

type DeviceStatus struct {
	CPU          CPU    `json:"cpu"`
	Memory       Memory `json:"memory"`
	Disk         Disk   `json:"disk"`
	ExportsBytes int64  `json:"exportsBytes"`
	Exports      string `json:"exports"`
}
