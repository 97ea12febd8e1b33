package ioadapter

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// GetNameInfo flag bits, mirroring netdb.h's NI_NUMERICHOST/NI_NUMERICSERV
// (not exposed by golang.org/x/sys/unix, which targets raw syscalls
// rather than the glibc resolver layer).
const (
	NINumericHost = 1 << iota
	NINumericServ
)

// lookupAddr runs on a worker-pool goroutine (never the event loop);
// it is the Go-native stand-in for getaddrinfo(3), which the C
// original also only ever calls off the main thread via ThreadPool
// (original_source/Source/IO.c's GetAddrInfoWrapper).
func lookupAddr(hostName, serviceName string) ([]ResolvedAddr, error) {
	port, err := resolvePort(serviceName)
	if err != nil {
		return nil, err
	}

	ips, err := net.LookupIP(hostName)
	if err != nil {
		return nil, err
	}

	addrs := make([]ResolvedAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ResolvedAddr{IP: []byte(ip), Port: port})
	}
	return addrs, nil
}

func resolvePort(serviceName string) (int, error) {
	if serviceName == "" {
		return 0, nil
	}
	if p, err := strconv.Atoi(serviceName); err == nil {
		return p, nil
	}
	port, err := net.LookupPort("tcp", serviceName)
	if err != nil {
		return 0, err
	}
	return port, nil
}

// lookupName runs on a worker-pool goroutine; the Go-native stand-in
// for getnameinfo(3) (original_source/Source/IO.c's GetNameInfoWrapper).
func lookupName(sa unix.Sockaddr, flags int) (host, service string, err error) {
	ip, port, err := sockaddrToIPPort(sa)
	if err != nil {
		return "", "", err
	}

	if flags&NINumericHost != 0 {
		host = ip.String()
	} else {
		names, lerr := net.LookupAddr(ip.String())
		if lerr != nil || len(names) == 0 {
			host = ip.String()
		} else {
			host = names[0]
		}
	}

	service = strconv.Itoa(port)
	return host, service, nil
}

func sockaddrToIPPort(sa unix.Sockaddr) (net.IP, int, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]), a.Port, nil
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]), a.Port, nil
	default:
		return nil, 0, fmt.Errorf("ioadapter: unsupported sockaddr type %T", sa)
	}
}
