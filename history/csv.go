// 绿灯分配历史的输出与读取
package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

const (
	legacyTimeLayout = "2006-01-02 15:04:05" // 早期记录使用的本地时间格式
)

var (
	ErrBadRecord = errors.New("bad history record")
)

// CSV 只追加的CSV历史文件
// 功能：每条记录写为一行 lane,allocated_seconds,RFC3339时间，写入后立即落盘
// 说明：进程崩溃时最多丢失正在写入的一行，已有内容不会被改写
type CSV struct {
	mtx  sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// OpenCSV 以追加方式打开（必要时创建）历史文件
func OpenCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file %s: %w", path, err)
	}
	log.Infof("append history to %s", path)
	return &CSV{path: path, file: f, w: csv.NewWriter(f)}, nil
}

// Append 追加一条记录并落盘
func (c *CSV) Append(ctx context.Context, r entity.Record) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.file == nil {
		return fmt.Errorf("history file %s: %w", c.path, os.ErrClosed)
	}
	if err := c.w.Write(encode(r)); err != nil {
		return err
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	return c.file.Sync()
}

// Path 文件路径
func (c *CSV) Path() string {
	return c.path
}

// Close 关闭文件，可重复调用
func (c *CSV) Close() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// LoadCSV 读取历史文件
// 功能：按文件顺序读取全部记录，格式不正确的行被跳过并记录日志
// 返回：文件不存在时返回空列表
// 说明：时间同时支持RFC3339与早期的"YYYY-mm-dd HH:MM:SS"本地时间格式
func LoadCSV(path string) ([]entity.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Infof("history file %s not found", path)
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records := make([]entity.Record, 0)
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				log.Warnf("%s:%d: skip: %v", path, line, err)
				continue
			}
			return records, err
		}
		r, err := decode(row)
		if err != nil {
			log.Warnf("%s:%d: skip: %v", path, line, err)
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func encode(r entity.Record) []string {
	row := []string{
		r.Lane,
		strconv.FormatFloat(r.Allocated, 'f', -1, 64),
		r.Timestamp.Format(time.RFC3339Nano),
	}
	if r.CycleID != "" {
		row = append(row, r.CycleID)
	}
	return row
}

func decode(row []string) (entity.Record, error) {
	if len(row) != 3 && len(row) != 4 {
		return entity.Record{}, fmt.Errorf("%w: expect 3 or 4 fields, got %d", ErrBadRecord, len(row))
	}
	lane := strings.TrimSpace(row[0])
	if lane == "" {
		return entity.Record{}, fmt.Errorf("%w: empty lane", ErrBadRecord)
	}
	allocated, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
	if err != nil || allocated < 0 {
		return entity.Record{}, fmt.Errorf("%w: allocated %q", ErrBadRecord, row[1])
	}
	ts := strings.TrimSpace(row[2])
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		t, err = time.ParseInLocation(legacyTimeLayout, ts, time.Local)
		if err != nil {
			return entity.Record{}, fmt.Errorf("%w: timestamp %q", ErrBadRecord, ts)
		}
	}
	r := entity.Record{Lane: lane, Allocated: allocated, Timestamp: t}
	if len(row) == 4 {
		r.CycleID = strings.TrimSpace(row[3])
	}
	return r, nil
}
