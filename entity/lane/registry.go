package lane

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
)

// Registry 车道注册表
// 功能：按声明顺序保存车道名->车辆数，是控制器中唯一被并发写入的共享数据
// 说明：车道集合在创建后固定；写入持有写锁，读取只通过快照进行，保证分配时不会读到写了一半的数据
type Registry struct {
	mtx    sync.RWMutex
	names  []string       // 车道名（声明顺序）
	index  map[string]int // 车道名->序号
	counts []int          // 车辆数，与names一一对应
}

// NewRegistry 创建车道注册表
// 功能：按给定顺序注册车道并写入初始车辆数
// 参数：names-车道名列表（顺序即同车辆数时的优先顺序），counts-初始车辆数（可为nil，缺省为0）
// 返回：注册表实例；车道为空、重名、车辆数为负或出现未知车道时返回ErrInvalidArgument
func NewRegistry(names []string, counts map[string]int) (*Registry, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no lanes", ErrInvalidArgument)
	}
	if lo.Contains(names, "") {
		return nil, fmt.Errorf("%w: empty lane name", ErrInvalidArgument)
	}
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return nil, fmt.Errorf("%w: duplicated lanes %v", ErrInvalidArgument, dup)
	}
	r := &Registry{
		names:  append([]string(nil), names...),
		index:  make(map[string]int, len(names)),
		counts: make([]int, len(names)),
	}
	for i, name := range names {
		r.index[name] = i
	}
	if err := r.validate(counts); err != nil {
		return nil, err
	}
	r.apply(counts)
	return r, nil
}

// Names 车道名列表（声明顺序）
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len 车道数
func (r *Registry) Len() int {
	return len(r.names)
}

// Snapshot 获取车辆数快照
// 功能：在读锁下复制当前车辆数，返回的快照与注册表不再共享内存
func (r *Registry) Snapshot() entity.LaneSnapshot {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return lo.Map(r.names, func(name string, i int) entity.Lane {
		return entity.Lane{Name: name, Count: r.counts[i]}
	})
}

// Counts 获取车道名->车辆数映射的副本
func (r *Registry) Counts() map[string]int {
	return r.Snapshot().Map()
}

// CurrentCounts 作为车辆数来源时返回当前车辆数
// 说明：人工输入或推送方式下，注册表本身即是最新的车辆数来源
func (r *Registry) CurrentCounts(ctx context.Context) (map[string]int, error) {
	return r.Counts(), nil
}

// SetCount 修改单条车道车辆数
// 参数：name-车道名，n-车辆数
// 返回：车道不存在或n<0时返回ErrInvalidArgument，注册表不变
func (r *Registry) SetCount(name string, n int) error {
	return r.SetCounts(map[string]int{name: n})
}

// SetCounts 批量修改车辆数
// 功能：先校验全部条目再在同一次写锁内写入，任一条目不合法则整体不生效
// 参数：counts-车道名->车辆数
func (r *Registry) SetCounts(counts map[string]int) error {
	if err := r.validate(counts); err != nil {
		return err
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.apply(counts)
	log.Debugf("counts updated: %v", counts)
	return nil
}

func (r *Registry) validate(counts map[string]int) error {
	for name, n := range counts {
		if _, ok := r.index[name]; !ok {
			return fmt.Errorf("%w: unknown lane %q", ErrInvalidArgument, name)
		}
		if n < 0 {
			return fmt.Errorf("%w: negative count %d for lane %q", ErrInvalidArgument, n, name)
		}
	}
	return nil
}

func (r *Registry) apply(counts map[string]int) {
	for name, n := range counts {
		r.counts[r.index[name]] = n
	}
}
