package sensor

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Listener 从机车辆数监听端
// 功能：接受摄像头从机的TCP连接，每收到一条消息立即写入车道注册表
// 说明：
//   - 写入走注册表的写锁，与控制器读取快照互不干扰
//   - 未知车道或负数车辆数的消息被丢弃，连接保持
//   - 作为车辆数来源时返回每条车道最近一次收到的车辆数
type Listener struct {
	registry entity.ILaneRegistry
	ln       net.Listener

	mtx      sync.Mutex
	latest   map[string]int
	received int
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// Listen 在addr上监听并开始接受连接
// 参数：addr-监听地址（如":5000"），registry-车道注册表
func Listen(addr string, registry entity.ILaneRegistry) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		registry: registry,
		ln:       ln,
		latest:   make(map[string]int),
		conns:    make(map[net.Conn]struct{}),
	}
	l.wg.Add(1)
	go l.serve()
	log.Infof("listen for camera counts on %s", ln.Addr())
	return l, nil
}

// Addr 实际监听地址
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// CurrentCounts 最近收到的车辆数
// 说明：尚未收到任何消息的车道不在结果中
func (l *Listener) CurrentCounts(ctx context.Context) (map[string]int, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return lo.Assign(l.latest), nil
}

// Received 已成功写入注册表的消息数
func (l *Listener) Received() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.received
}

// Close 停止监听、断开全部连接并等待处理协程退出，可重复调用
func (l *Listener) Close() error {
	l.mtx.Lock()
	if l.closed {
		l.mtx.Unlock()
		return nil
	}
	l.closed = true
	err := l.ln.Close()
	for conn := range l.conns {
		conn.Close()
	}
	l.mtx.Unlock()
	l.wg.Wait()
	return err
}

func (l *Listener) serve() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warnf("accept: %v", err)
			continue
		}
		l.mtx.Lock()
		if l.closed {
			l.mtx.Unlock()
			conn.Close()
			return
		}
		l.conns[conn] = struct{}{}
		l.wg.Add(1)
		l.mtx.Unlock()
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		l.mtx.Lock()
		delete(l.conns, conn)
		l.mtx.Unlock()
		conn.Close()
	}()
	remote := conn.RemoteAddr()
	log.Infof("camera %v connected", remote)
	for {
		f, err := ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Infof("camera %v disconnected", remote)
			} else {
				log.Warnf("camera %v: %v", remote, err)
			}
			return
		}
		if err := l.registry.SetCount(f.Lane, f.Count); err != nil {
			log.Warnf("camera %v: drop %+v: %v", remote, f, err)
			continue
		}
		l.mtx.Lock()
		l.latest[f.Lane] = f.Count
		l.received++
		l.mtx.Unlock()
	}
}
